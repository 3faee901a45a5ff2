package api

import (
	"context"

	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/supervisor"
)

// Manager is the part of the supervisor the HTTP layer drives.
type Manager interface {
	GetEndpoints() model.EndpointSet
	AddEndpoints(model.EndpointSet) error
	RemoveEndpoints(model.EndpointSet) error
	Restart() error
	Status() supervisor.Status
	Subscribe() (<-chan model.EndpointSet, func())
}

// JournalReader lists recent endpoint mutations.
type JournalReader interface {
	List(ctx context.Context, limit int) ([]model.JournalEntry, error)
}

// ErrorResponse is the body of every 4xx/5xx the endpoint routes return.
type ErrorResponse struct {
	Message string `json:"message"`
}

// WatchMessage is pushed to websocket watchers.
type WatchMessage struct {
	Type      string           `json:"type"`
	Endpoints []model.Endpoint `json:"endpoints"`
}
