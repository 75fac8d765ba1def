package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/agentmesh-ai/meshd/internal/connector"
)

// HealthMonitor provides the availability records the health routes serve.
type HealthMonitor interface {
	List() []connector.Health
	Status(id string) (connector.Health, error)
}

// ConnectorHealth is the API-safe availability record for one connector.
type ConnectorHealth struct {
	ID             string     `json:"id"`
	Availability   string     `json:"availability"`
	Latency        *string    `json:"latency,omitempty"`
	LastChecked    *time.Time `json:"lastChecked,omitempty"`
	LastSuccessful *time.Time `json:"lastSuccessful,omitempty"`
}

// ConnectorsHealthResponse is the response for GET /health/connectors.
type ConnectorsHealthResponse struct {
	Body struct {
		Connectors []ConnectorHealth `doc:"Tracked connector availability records" json:"connectors"`
	}
}

// ConnectorHealthRequest identifies one connector.
type ConnectorHealthRequest struct {
	ID string `doc:"Connector id" example:"conn-a" path:"id"`
}

// ConnectorHealthResponse is the response for GET /health/connectors/{id}.
type ConnectorHealthResponse struct {
	Body ConnectorHealth
}

func toAPIHealth(h connector.Health) ConnectorHealth {
	var latency *string
	if h.Latency != nil {
		s := time.Duration(*h.Latency).String()
		latency = &s
	}
	return ConnectorHealth{
		ID:             h.ID,
		Availability:   string(h.Availability),
		Latency:        latency,
		LastChecked:    h.LastChecked,
		LastSuccessful: h.LastSuccessful,
	}
}

// RegisterHealthRoutes sets up the connector availability endpoints.
func RegisterHealthRoutes(routerAPI huma.API, logger hclog.Logger, monitor HealthMonitor, apiPathPrefix string) {
	healthAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Health"}

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "listConnectorsHealth",
			Method:      http.MethodGet,
			Path:        "/connectors",
			Summary:     "List availability for all connectors",
			Tags:        tags,
		},
		func(_ context.Context, _ *struct{}) (*ConnectorsHealthResponse, error) {
			resp := &ConnectorsHealthResponse{}
			records := monitor.List()
			resp.Body.Connectors = make([]ConnectorHealth, 0, len(records))
			for _, h := range records {
				resp.Body.Connectors = append(resp.Body.Connectors, toAPIHealth(h))
			}
			return resp, nil
		},
	)

	huma.Register(
		healthAPI,
		huma.Operation{
			OperationID: "getConnectorHealth",
			Method:      http.MethodGet,
			Path:        "/connectors/{id}",
			Summary:     "Get availability for a connector",
			Tags:        tags,
		},
		func(_ context.Context, input *ConnectorHealthRequest) (*ConnectorHealthResponse, error) {
			h, err := monitor.Status(input.ID)
			if err != nil {
				return nil, mapError(logger, err)
			}
			return &ConnectorHealthResponse{Body: toAPIHealth(h)}, nil
		},
	)
}
