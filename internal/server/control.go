package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/messages"
	"github.com/virtcam/virtcamd/internal/version"
)

// ModeRequest sets the camera operating mode.
type ModeRequest struct {
	Body struct {
		Type string `json:"type" enum:"motion,smart" doc:"Camera operating mode"`
	}
}

// ShootRequest fires a shutter event.
type ShootRequest struct {
	Body struct {
		Type string `json:"type" enum:"single,burst" doc:"Shutter action"`
	}
}

// ChannelStatus reports one broadcast channel's delivery counters.
type ChannelStatus struct {
	Name        string `json:"name" doc:"Channel name"`
	Subscribers int    `json:"subscribers" doc:"Currently attached viewers"`
	Published   uint64 `json:"published" doc:"Messages accepted"`
	Coalesced   uint64 `json:"coalesced" doc:"Frames overwritten before delivery"`
}

// StatusResponse reports build information and all channel counters.
type StatusResponse struct {
	Body struct {
		Build    version.Info    `json:"build"`
		Channels []ChannelStatus `json:"channels"`
	}
}

// registerControlRoutes sets up the control API endpoints.
func (s *Server) registerControlRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "set-mode",
		Method:      http.MethodPost,
		Path:        "/api/mode",
		Summary:     "Set Camera Mode",
		Description: "Publish an operating mode change to all mode viewers",
		Tags:        []string{"control"},
		Errors:      []int{422},
	}, func(_ context.Context, input *ModeRequest) (*struct{}, error) {
		mode := messages.ModeType(input.Body.Type)
		if !mode.Valid() {
			return nil, huma.Error422UnprocessableEntity("unknown camera mode " + input.Body.Type)
		}

		s.options.Registry.Channel("mode").Publish(messages.Mode{Type: mode})
		s.options.EventBus.Publish(events.ModeChangedEvent{Mode: string(mode), Source: "api"})
		s.logger.Info("Mode change published", "mode", mode)
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "fire-shoot",
		Method:      http.MethodPost,
		Path:        "/api/shoot",
		Summary:     "Fire Shutter",
		Description: "Publish a shutter event to all shoot viewers",
		Tags:        []string{"control"},
		Errors:      []int{422},
	}, func(_ context.Context, input *ShootRequest) (*struct{}, error) {
		shot := messages.ShotType(input.Body.Type)
		if !shot.Valid() {
			return nil, huma.Error422UnprocessableEntity("unknown shot type " + input.Body.Type)
		}

		s.options.Registry.Channel("shoot").Publish(messages.Shoot{Type: shot})
		s.options.EventBus.Publish(events.ShootFiredEvent{ShotType: string(shot)})
		s.logger.Info("Shutter event published", "type", shot)
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Channel Status",
		Description: "Delivery counters for every broadcast channel",
		Tags:        []string{"control"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		resp := &StatusResponse{}
		resp.Body.Build = version.Get()
		for _, name := range []string{"camera", "shoot", "mode"} {
			ch := s.options.Registry.Channel(name)
			stats := ch.Stats()
			resp.Body.Channels = append(resp.Body.Channels, ChannelStatus{
				Name:        name,
				Subscribers: ch.Subscribers(),
				Published:   stats.Published,
				Coalesced:   stats.Coalesced,
			})
		}
		return resp, nil
	})
}
