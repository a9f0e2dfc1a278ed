package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/natsclient"
)

// DefaultSubjectPrefix prefixes every bus subject when none is configured.
const DefaultSubjectPrefix = "avflow"

// Publisher carries runtime reports out. data is always JSON.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bus also carries control requests in. natsclient.Client implements it.
type Bus interface {
	Publisher
	Reply(ctx context.Context, subject string, h natsclient.Handler) error
}

// Subjects names the bus subjects under one prefix.
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultSubjectPrefix
	}
	return strings.TrimSuffix(s.Prefix, ".")
}

// Health is where river health is published.
func (s Subjects) Health() string { return s.prefix() + ".health" }

// Messages is where runtime messages of one severity are published.
func (s Subjects) Messages(sev message.Severity) string {
	return s.prefix() + ".messages." + sev.String()
}

// Control names one control request subject, e.g. "streamlet.add".
func (s Subjects) Control(op string) string { return s.prefix() + ".control." + op }

// NameRequest is the body of requests naming one streamlet.
type NameRequest struct {
	Name string `yaml:"name"`
}

type okReply struct {
	OK bool `json:"ok"`
}

// ServeBus answers control requests on the bus until ctx ends:
//
//	<prefix>.control.streamlet.list     -> []StreamletInfo
//	<prefix>.control.streamlet.add      StreamletDef -> StreamletInfo
//	<prefix>.control.streamlet.remove   NameRequest
//	<prefix>.control.streamlet.pause    NameRequest
//	<prefix>.control.streamlet.resume   NameRequest
//	<prefix>.control.link               Link
//	<prefix>.control.unlink             Link
//	<prefix>.control.event              EventRequest
//
// Bodies are YAML or JSON. Failures reply {"error": "..."}.
func (e *Engine) ServeBus(ctx context.Context, bus Bus, subjects Subjects) error {
	handlers := map[string]natsclient.Handler{
		"streamlet.list":   e.busList,
		"streamlet.add":    e.busAdd,
		"streamlet.remove": e.busByName(e.RemoveStreamlet),
		"streamlet.pause":  e.busByName(e.Pause),
		"streamlet.resume": e.busByName(e.Resume),
		"link":             e.busLink(e.Link),
		"unlink":           e.busLink(e.Unlink),
		"event":            e.busEvent,
	}
	for op, h := range handlers {
		if err := bus.Reply(ctx, subjects.Control(op), h); err != nil {
			return errors.Wrap(err, "Engine", "ServeBus", "serve "+subjects.Control(op))
		}
	}
	e.logger.Info("Engine bus handlers registered", "prefix", subjects.prefix())
	return nil
}

func (e *Engine) busList(context.Context, []byte) ([]byte, error) {
	streamlets := e.river.Streamlets()
	out := make([]StreamletInfo, 0, len(streamlets))
	for _, s := range streamlets {
		out = append(out, describe(s))
	}
	return json.Marshal(out)
}

func (e *Engine) busAdd(_ context.Context, req []byte) ([]byte, error) {
	var def config.StreamletDef
	if err := decodeRequest(req, &def); err != nil {
		return nil, err
	}
	s, err := e.AddStreamlet(&def)
	if s == nil {
		return nil, err
	}
	// a streamlet that failed to start is reported by the monitor
	return json.Marshal(describe(s))
}

func (e *Engine) busByName(op func(string) error) natsclient.Handler {
	return func(_ context.Context, req []byte) ([]byte, error) {
		var r NameRequest
		if err := decodeRequest(req, &r); err != nil {
			return nil, err
		}
		if err := op(r.Name); err != nil {
			return nil, err
		}
		return json.Marshal(okReply{OK: true})
	}
}

func (e *Engine) busLink(op func(config.Link) error) natsclient.Handler {
	return func(_ context.Context, req []byte) ([]byte, error) {
		var l config.Link
		if err := decodeRequest(req, &l); err != nil {
			return nil, err
		}
		if err := op(l); err != nil {
			return nil, err
		}
		return json.Marshal(okReply{OK: true})
	}
}

func (e *Engine) busEvent(_ context.Context, req []byte) ([]byte, error) {
	var r EventRequest
	if err := decodeRequest(req, &r); err != nil {
		return nil, err
	}
	ev, err := r.Event()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "busEvent", "build event")
	}
	if err := e.SendEvent(config.ParseEndpoint(r.To), ev); err != nil {
		return nil, err
	}
	return json.Marshal(okReply{OK: true})
}

// PublishHealth publishes the river health once.
func (e *Engine) PublishHealth(ctx context.Context, bus Publisher, subjects Subjects) error {
	data, err := json.Marshal(e.river.Health())
	if err != nil {
		return errors.Wrap(err, "Engine", "PublishHealth", "encode health")
	}
	return bus.Publish(ctx, subjects.Health(), data)
}

// PublishMessages publishes each message on the subject for its severity and
// returns the joined failures.
func PublishMessages(ctx context.Context, bus Publisher, subjects Subjects, msgs []message.Message) error {
	var errs []error
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err == nil {
			err = bus.Publish(ctx, subjects.Messages(m.Severity), data)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
