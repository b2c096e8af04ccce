package main

import (
	"context"
	"fmt"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/mqtt"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// brokerAdapter adapts *mqtt.Client to wb.Broker.
type brokerAdapter struct {
	client *mqtt.Client
}

func (a *brokerAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *brokerAdapter) Subscribe(pattern string, qos byte) error {
	return a.client.Subscribe(pattern, qos)
}

func (a *brokerAdapter) Unsubscribe(pattern string) error {
	return a.client.Unsubscribe(pattern)
}

func (a *brokerAdapter) OnMessage(pattern string, handler wb.MessageHandler) {
	a.client.OnMessage(pattern, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

func (a *brokerAdapter) RemoveHandler(pattern string) {
	a.client.RemoveHandler(pattern)
}

func (a *brokerAdapter) Run(ctx context.Context) error {
	return a.client.Run(ctx)
}

func (a *brokerAdapter) Close() error {
	return a.client.Close()
}

// declareDevices creates the virtual devices listed in the config.
func declareDevices(sess *wb.Session, devices []config.DeviceConfig) error {
	for _, dc := range devices {
		specs := make([]wb.ControlSpec, 0, len(dc.Controls))
		for _, cc := range dc.Controls {
			specs = append(specs, controlSpec(cc))
		}
		if _, err := sess.CreateVirtualDevice(dc.ID, wb.Title(dc.Title), specs...); err != nil {
			return fmt.Errorf("creating device %q: %w", dc.ID, err)
		}
	}
	return nil
}

func controlSpec(cc config.ControlConfig) wb.ControlSpec {
	return wb.ControlSpec{
		Name:     cc.Name,
		Title:    wb.Title(cc.Title),
		Type:     cc.Type,
		Default:  wb.ValueOf(cc.Default),
		Order:    cc.Order,
		Readonly: cc.Readonly,
		Units:    cc.Units,
		Min:      cc.Min,
		Max:      cc.Max,
		Extra:    cc.Extra,
	}
}

// linkLogger is the logging subset used by links.
type linkLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// bindLinks copies values from each link source to its target. A value is
// forwarded only when it differs from the target's current value, so links
// that feed back into each other settle instead of looping.
func bindLinks(sess *wb.Session, links []config.LinkConfig, log linkLogger) error {
	for _, l := range links {
		from, err := wb.ParsePath(l.From)
		if err != nil {
			return fmt.Errorf("link from: %w", err)
		}
		to, err := wb.ParsePath(l.To)
		if err != nil {
			return fmt.Errorf("link to: %w", err)
		}

		err = sess.SubscribeValue(func(device, control string, value wb.Value) {
			if wb.Path(device, control) == to || !value.IsKnown() {
				return
			}
			if current, ok := sess.Get(to); ok && current.Equal(value) {
				return
			}
			log.Debug("link forwarding value", "from", device+"/"+control, "to", to.String(), "value", value.String())
			if err := sess.Set(to, value); err != nil {
				log.Warn("link set failed", "to", to.String(), "error", err)
			}
		}, from)
		if err != nil {
			return fmt.Errorf("binding link %s -> %s: %w", l.From, l.To, err)
		}
	}
	return nil
}
