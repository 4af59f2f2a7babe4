// Package features mounts catalog screens as sessions: one lifecycle per
// mode, all sharing the screen's form.
package features

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lotas/studzo/internal/analysis"
	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/decode"
	"github.com/lotas/studzo/internal/lifecycle"
	"github.com/lotas/studzo/internal/session"
	"github.com/lotas/studzo/internal/storage"
	"github.com/lotas/studzo/internal/types"
)

// Invoker runs a mode against the analysis service.
type Invoker interface {
	Invoke(ctx context.Context, m analysis.Mode, in analysis.Input) ([]byte, error)
}

// Deps are the collaborators of a mounted screen.
type Deps struct {
	Client  Invoker
	Profile types.Profile
	// OnChange is called after any mode changes state.
	OnChange func()
	// DB receives the call log when set.
	DB *sql.DB
}

// Open mounts screen. The form is prefilled from the profile and field
// defaults of every mode, first mode first.
func Open(screen analysis.Screen, deps Deps) *session.Session {
	sess := session.New(screen.ID)
	prefill := make(map[string]string)

	for _, m := range screen.Modes {
		m := m
		lc := lifecycle.New(lifecycle.Options[analysis.Input, any]{
			Name: screen.ID + "/" + m.ID,
			Call: func(ctx context.Context, in analysis.Input) ([]byte, error) {
				return deps.Client.Invoke(ctx, m, in)
			},
			Validate: m.Validate,
			Decode:   decode.Any,
			OnChange: deps.OnChange,
			OnApply: func(a lifecycle.Applied) {
				record(deps.DB, screen.ID, m.ID, a)
			},
		})
		profile := deps.Profile
		sess.Add(m.ID, session.Bind(m.ID, lc, func(f session.Form) analysis.Input {
			return analysis.Input{Screen: screen.ID, Mode: m.ID, Fields: f, Profile: profile}
		}))

		for k, v := range m.Defaults(deps.Profile) {
			if _, ok := prefill[k]; !ok {
				prefill[k] = v
			}
		}
	}
	sess.SetFields(prefill)
	return sess
}

// Run submits mode and waits for its outcome. It is the synchronous path
// used by the command line; ctx bounds the call.
func Run(ctx context.Context, sess *session.Session, mode string) (session.View, error) {
	if err := sess.SelectMode(mode); err != nil {
		return session.View{}, err
	}
	job, err := sess.Submit(mode)
	if err != nil {
		return session.View{}, err
	}
	job.Run(ctx).Apply()
	v := sess.Active()
	if v.Err != nil {
		return v, v.Err
	}
	return v, nil
}

func record(db *sql.DB, screen, mode string, a lifecycle.Applied) {
	if db == nil {
		return
	}
	c := storage.Call{
		Screen:  screen,
		Mode:    mode,
		Token:   a.Token,
		Status:  a.Status.String(),
		Elapsed: a.Elapsed,
		Raw:     a.Raw,
	}
	if a.Err != nil {
		c.ErrorKind = a.Err.Kind.String()
		c.ErrorMsg = a.Err.Error()
	}
	if _, err := storage.RecordCall(db, c); err != nil {
		applog.Error("calllog.record", err, "call", fmt.Sprintf("%s/%s", screen, mode))
	}
}
