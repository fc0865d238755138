package controller

import (
	"context"
	"fmt"

	"github.com/danmuck/glowlink/internal/logs"
)

// Local actions mutate the active mode and broadcast the result.

func (c *Controller) NextMode(ctx context.Context) error {
	if err := c.switchTo((c.active + 1) % len(c.modes)); err != nil {
		return err
	}
	logs.Infof("controller.NextMode mode=%q", c.Active().Title())
	return c.Broadcast(ctx)
}

func (c *Controller) Activate(ctx context.Context, title string) error {
	if err := c.Select(title); err != nil {
		return err
	}
	logs.Infof("controller.Activate mode=%q", title)
	return c.Broadcast(ctx)
}

// Select switches the active mode without telling peers. Used at boot.
func (c *Controller) Select(title string) error {
	idx, ok := c.byTitle[title]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, title)
	}
	return c.switchTo(idx)
}

func (c *Controller) NextOption(ctx context.Context) error {
	m := c.Active()
	alert := m.NextOption()
	m.OnOptionChanged()
	if alert {
		c.signal(c.cfg.AlertFlashes)
	}
	return c.Broadcast(ctx)
}

func (c *Controller) SetOption(ctx context.Context, i int) error {
	m := c.Active()
	if err := m.SetOption(i); err != nil {
		return err
	}
	m.OnOptionChanged()
	if opts := m.Options(); i < len(opts) && opts[i].Alert {
		c.signal(c.cfg.AlertFlashes)
	}
	return c.Broadcast(ctx)
}

func (c *Controller) SetBrightness(ctx context.Context, b uint16) error {
	if err := c.Active().SetBrightness(b); err != nil {
		return err
	}
	return c.Broadcast(ctx)
}

// CustomAction runs the active mode's button action.
func (c *Controller) CustomAction(ctx context.Context) error {
	c.Active().OnCustomAction()
	return c.Broadcast(ctx)
}
