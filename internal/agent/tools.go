package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Tool is an action the model may request.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Param is a required string argument of a tool.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the tools offered to the model.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry. Later tools replace earlier ones with the
// same name.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type toolSchema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Args        []Param `json:"args"`
}

// Describe renders one JSON line per tool for the prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		t := r.tools[name]
		line, _ := json.Marshal(toolSchema{Name: t.Name(), Description: t.Description(), Args: t.Params()})
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ToolError formats a failure as the tool result shown to the model.
func ToolError(err error) string {
	return fmt.Sprintf("Error: %v. Please review your input and try again.", err)
}

// HTTPTool calls an endpoint of the back-office API.
type HTTPTool struct {
	name        string
	description string
	params      []Param
	build       func(args map[string]string) (method, path string, body any)

	baseURL string
	client  *http.Client
}

// Name returns the tool name.
func (t *HTTPTool) Name() string { return t.name }

// Description returns the tool description.
func (t *HTTPTool) Description() string { return t.description }

// Params returns the required arguments.
func (t *HTTPTool) Params() []Param { return t.params }

// Call validates args, performs the request and returns the response body.
func (t *HTTPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	values := make(map[string]string, len(t.params))
	for _, p := range t.params {
		v, ok := args[p.Name]
		if !ok {
			return "", fmt.Errorf("missing required argument %q", p.Name)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("argument %q must be a non-empty string", p.Name)
		}
		values[p.Name] = s
	}

	method, path, body := t.build(values)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// BackOfficeTools returns the stats and employee registration tools bound
// to baseURL.
func BackOfficeTools(baseURL string, timeout time.Duration) []Tool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	baseURL = strings.TrimRight(baseURL, "/")

	return []Tool{
		&HTTPTool{
			name:        "get_stats_by_region",
			description: "Fetches user and transaction statistics for a region.",
			params: []Param{
				{Name: "region", Description: "The region to get statistics for (e.g., 'North', 'South')."},
			},
			build: func(a map[string]string) (string, string, any) {
				// The back office reads the region from the request body.
				return http.MethodGet, "/stats/region", map[string]string{"region": a["region"]}
			},
			baseURL: baseURL,
			client:  client,
		},
		&HTTPTool{
			name:        "get_stats_by_user",
			description: "Fetches statistics for a specific user by ID.",
			params: []Param{
				{Name: "user_id", Description: "The unique identifier of the user."},
			},
			build: func(a map[string]string) (string, string, any) {
				return http.MethodGet, "/stats/user/" + url.PathEscape(a["user_id"]), nil
			},
			baseURL: baseURL,
			client:  client,
		},
		&HTTPTool{
			name:        "register_employee",
			description: "Registers a new employee.",
			params: []Param{
				{Name: "name", Description: "The full name of the employee."},
				{Name: "email", Description: "The email address of the employee."},
				{Name: "contact", Description: "The contact number of the employee."},
				{Name: "pin", Description: "A numeric PIN for the employee."},
			},
			build: func(a map[string]string) (string, string, any) {
				return http.MethodPost, "/register-employee", map[string]string{
					"name":    a["name"],
					"email":   a["email"],
					"contact": a["contact"],
					"pin":     a["pin"],
				}
			},
			baseURL: baseURL,
			client:  client,
		},
	}
}
