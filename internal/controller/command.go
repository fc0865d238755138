package controller

import (
	"context"
	"fmt"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/observability"
	"github.com/danmuck/glowlink/internal/protocol/message"
	"github.com/danmuck/glowlink/internal/registry"
)

// HandleCommand serves namespace requests, applies namespace pushes and
// counts sync acknowledgements.
func (c *Controller) HandleCommand(ctx context.Context, env message.Envelope) error {
	cmd, err := env.Command()
	if err != nil {
		logs.Warnf("controller.HandleCommand from=%08x: %v", env.SenderID, err)
		return err
	}
	switch cmd.Command {
	case message.CommandAckSync:
		c.stats.AcksReceived++
		observability.RecordSync(c.cfg.Node, "ack_received")
		logs.Infof("controller.HandleCommand ack sync from=%08x", env.SenderID)
		return nil
	case message.CommandNamespace:
		switch {
		case cmd.Data == nil:
			return c.answerNamespace(ctx, cmd.Namespace, env.SenderID)
		case cmd.To == 0:
			return c.applyNamespace(cmd, env.SenderID)
		default:
			return c.applyReply(cmd, env.SenderID)
		}
	default:
		return fmt.Errorf("%w: command %s", message.ErrInvalidBody, cmd.Command)
	}
}

// answerNamespace sends the local copy of name, addressed to the requester
// when from is set.
func (c *Controller) answerNamespace(ctx context.Context, name string, from uint32) error {
	doc, err := c.reg.SerializeNamespace(name)
	if err != nil {
		logs.Debugf("controller.HandleCommand namespace request from=%08x: %v", from, err)
		return err
	}
	reply := message.Command{
		Command:   message.CommandNamespace,
		Namespace: name,
		Data:      &message.NamespaceData{Title: doc.Title, Version: doc.Version, Registry: doc.Values},
		To:        from,
	}
	if err := c.out.Send(ctx, message.TypeCommand, reply); err != nil {
		logs.Warnf("controller.HandleCommand namespace reply %q err=%v", name, err)
		return err
	}
	c.stats.NamespacesSent++
	return nil
}

// applyReply applies the first answer to an outstanding request of this node.
// Later answers and replies for other nodes are dropped.
func (c *Controller) applyReply(cmd message.Command, from uint32) error {
	if cmd.To != c.cfg.ID {
		c.stats.NamespacesIgnored++
		logs.Tracef("controller.HandleCommand namespace %q reply for %08x ignored", cmd.Namespace, cmd.To)
		return nil
	}
	if _, ok := c.requested[cmd.Namespace]; !ok {
		c.stats.NamespacesIgnored++
		logs.Debugf("controller.HandleCommand namespace %q from=%08x not requested", cmd.Namespace, from)
		return nil
	}
	delete(c.requested, cmd.Namespace)
	return c.applyNamespace(cmd, from)
}

func (c *Controller) applyNamespace(cmd message.Command, from uint32) error {
	doc := registry.Document{Title: cmd.Data.Title, Version: cmd.Data.Version, Values: cmd.Data.Registry}
	if err := c.reg.ApplyNamespace(cmd.Namespace, doc); err != nil {
		logs.Warnf("controller.HandleCommand namespace %q from=%08x rejected: %v", cmd.Namespace, from, err)
		return err
	}
	c.stats.NamespacesSet++
	observability.RecordSync(c.cfg.Node, "namespace_applied")
	logs.Infof("controller.HandleCommand namespace %q applied from=%08x", cmd.Namespace, from)
	return nil
}

// RequestNamespace asks peers for their copy of a namespace.
func (c *Controller) RequestNamespace(ctx context.Context, name string) error {
	if _, ok := c.reg.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", registry.ErrNoNamespace, name)
	}
	if err := c.out.Send(ctx, message.TypeCommand, message.Command{Command: message.CommandNamespace, Namespace: name}); err != nil {
		return err
	}
	c.requested[name] = struct{}{}
	return nil
}

// PushNamespace sends this node's copy of a namespace without waiting to be asked.
func (c *Controller) PushNamespace(ctx context.Context, name string) error {
	return c.answerNamespace(ctx, name, 0)
}
