package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/agentmesh-ai/meshd/internal/connector"
	"github.com/agentmesh-ai/meshd/internal/registry"
)

// Syncer triggers a connector sync cycle.
type Syncer interface {
	Sync(ctx context.Context) (connector.SyncResult, error)
}

// ToolCatalog provides the federated tool entries the connector routes serve.
type ToolCatalog interface {
	List() []registry.VersionedEntry
	ListConnector(connectorID string) []registry.VersionedEntry
}

// ConnectorSummary describes one connector currently publishing tools.
type ConnectorSummary struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	ToolCount int    `json:"toolCount"`
}

// ConnectorsResponse is the response for GET /connectors.
type ConnectorsResponse struct {
	Body struct {
		Connectors []ConnectorSummary `doc:"Connectors currently publishing tools" json:"connectors"`
	}
}

// ConnectorToolsRequest identifies one connector.
type ConnectorToolsRequest struct {
	ID string `doc:"Connector id" example:"conn-a" path:"id"`
}

// FederatedTool is one published tool entry.
type FederatedTool struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ConnectorID string   `json:"connectorId"`
	Version     string   `json:"version"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ConnectorToolsResponse is the response for GET /connectors/{id}/tools.
type ConnectorToolsResponse struct {
	Body struct {
		Tools []FederatedTool `doc:"Tools the connector currently publishes" json:"tools"`
	}
}

// SyncResponse is the response for POST /connectors/sync.
type SyncResponse struct {
	Body connector.SyncResult
}

func toFederatedTool(e registry.VersionedEntry) FederatedTool {
	return FederatedTool{
		Name:        registry.NamespacedName(e.ConnectorID, e.Tool.Name),
		Description: e.Tool.Description,
		ConnectorID: e.ConnectorID,
		Version:     e.Version,
		Scopes:      e.Scopes,
	}
}

// RegisterConnectorRoutes sets up the connector catalog and sync endpoints.
// POST /connectors/sync is also the documented recovery path for clients that
// missed change notifications: it forces a cycle and returns its summary.
func RegisterConnectorRoutes(
	routerAPI huma.API,
	logger hclog.Logger,
	syncer Syncer,
	catalog ToolCatalog,
	apiPathPrefix string,
) {
	connectorAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Connectors"}

	huma.Register(
		connectorAPI,
		huma.Operation{
			OperationID: "listConnectors",
			Method:      http.MethodGet,
			Path:        "",
			Summary:     "List connectors currently publishing tools",
			Tags:        tags,
		},
		func(_ context.Context, _ *struct{}) (*ConnectorsResponse, error) {
			summaries := make(map[string]*ConnectorSummary)
			for _, e := range catalog.List() {
				s, ok := summaries[e.ConnectorID]
				if !ok {
					s = &ConnectorSummary{ID: e.ConnectorID, Version: e.Version}
					summaries[e.ConnectorID] = s
				}
				s.ToolCount++
			}

			resp := &ConnectorsResponse{}
			resp.Body.Connectors = make([]ConnectorSummary, 0, len(summaries))
			for _, s := range summaries {
				resp.Body.Connectors = append(resp.Body.Connectors, *s)
			}
			slices.SortFunc(resp.Body.Connectors, func(a, b ConnectorSummary) int {
				return strings.Compare(a.ID, b.ID)
			})

			return resp, nil
		},
	)

	huma.Register(
		connectorAPI,
		huma.Operation{
			OperationID: "listConnectorTools",
			Method:      http.MethodGet,
			Path:        "/{id}/tools",
			Summary:     "List the tools a connector publishes",
			Tags:        tags,
		},
		func(_ context.Context, input *ConnectorToolsRequest) (*ConnectorToolsResponse, error) {
			resp := &ConnectorToolsResponse{}
			entries := catalog.ListConnector(input.ID)
			resp.Body.Tools = make([]FederatedTool, 0, len(entries))
			for _, e := range entries {
				resp.Body.Tools = append(resp.Body.Tools, toFederatedTool(e))
			}
			return resp, nil
		},
	)

	huma.Register(
		connectorAPI,
		huma.Operation{
			OperationID: "syncConnectors",
			Method:      http.MethodPost,
			Path:        "/sync",
			Summary:     "Force a connector sync cycle",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*SyncResponse, error) {
			result, err := syncer.Sync(ctx)
			if err != nil {
				return nil, mapError(logger, err)
			}
			return &SyncResponse{Body: result}, nil
		},
	)
}
