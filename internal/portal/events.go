package portal

import (
	"context"

	"janseva.org/internal/auth"
	"janseva.org/internal/stream"
)

// Visible reports whether actor may receive evt. Scheme events go to every
// role; application events follow the listing rules.
func (s *Service) Visible(actor auth.Actor, evt stream.Event) bool {
	if evt.Kind == stream.KindSchemeCreated {
		return actor.Can(auth.PermSchemeView)
	}
	owner, err := s.visibility(actor)
	if err != nil {
		return false
	}
	return owner == "" || owner == evt.SubmittedBy
}

// Subscribe streams the workflow events visible to actor until ctx ends.
func (s *Service) Subscribe(ctx context.Context, actor auth.Actor) (<-chan stream.Event, error) {
	if err := auth.Require(actor, auth.PermEventsSubscribe); err != nil {
		return nil, err
	}
	out := make(chan stream.Event, 16)
	if s.events == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}
	in := s.events.Subscribe(ctx)
	go func() {
		defer close(out)
		for evt := range in {
			if !s.Visible(actor, evt) {
				continue
			}
			select {
			case out <- evt:
			default:
				// Drop when subscriber is slow to avoid blocking.
			}
		}
	}()
	return out, nil
}
