package stage

import (
	"context"
	"errors"

	ua "github.com/mileusna/useragent"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// UserAgentConfig configures a UserAgent stage.
type UserAgentConfig struct {
	// Source resolves to the user agent string to parse.
	Source *template.Template
	Env    template.Env

	// Target is the output field. Defaults to "user_agent".
	Target string
}

// UserAgent parses a user agent string into an object of browser, OS,
// and device attributes. Events without the source field pass through
// unchanged.
func UserAgent(cfg UserAgentConfig) pipeline.Stage {
	if cfg.Target == "" {
		cfg.Target = "user_agent"
	}
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		s, err := cfg.Source.Resolve(e, cfg.Env)
		if err != nil {
			if errors.Is(err, template.ErrUnresolved) {
				return e, nil
			}
			return nil, err
		}

		agent := ua.Parse(s)
		out := event.NewObject()
		put := func(name, v string) {
			if v != "" {
				_ = out.Set(name, event.NewString(v))
			}
		}
		put("name", agent.Name)
		put("version", agent.Version)
		put("os", agent.OS)
		put("os_version", agent.OSVersion)
		put("device", agent.Device)
		for name, flag := range map[string]bool{
			"mobile":  agent.Mobile,
			"tablet":  agent.Tablet,
			"desktop": agent.Desktop,
			"bot":     agent.Bot,
		} {
			if flag {
				_ = out.Set(name, event.NewBool(true))
			}
		}
		if err := e.Put(cfg.Target, out); err != nil {
			return nil, err
		}
		return e, nil
	})
}
