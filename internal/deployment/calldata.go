package deployment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wasmiot/supervisor/internal/endpoint"
)

// CallArgs is the argument shape a downstream call carries, mirroring the
// original CallData.from_endpoint's isinstance branching over str/list/dict.
type CallArgs interface {
	callArgs()
}

// ScalarArg binds a single value to the endpoint's first declared parameter.
type ScalarArg string

// OrderedArgs binds values to parameters by declaration order.
type OrderedArgs []string

// KeyedArgs binds values to parameters by name.
type KeyedArgs map[string]string

func (ScalarArg) callArgs()   {}
func (OrderedArgs) callArgs() {}
func (KeyedArgs) callArgs()   {}

// CallData is everything the orchestrator needs to place the next call in a
// chain: url already has its query string attached.
type CallData struct {
	URL     string
	Method  string
	Headers map[string]string
	// Files maps a mount name to the host path of the file to attach as
	// multipart/form-data. BuildCallData only records these paths; it never
	// opens them.
	Files map[string]string
}

// BuildCallData renders ep's target URL with args encoded into its query
// string, in ep's declared parameter order.
func BuildCallData(ep endpoint.Endpoint, args CallArgs, files map[string]string) (*CallData, error) {
	target := strings.TrimRight(ep.URL, "/") + ep.Path

	query, err := buildQuery(ep.Request.Parameters, args)
	if err != nil {
		return nil, err
	}
	if query != "" {
		target += "?" + query
	}

	method := ep.Method
	if method == "" {
		method = "GET"
	}

	return &CallData{
		URL:     target,
		Method:  method,
		Headers: map[string]string{},
		Files:   files,
	}, nil
}

func buildQuery(params []endpoint.Parameter, args CallArgs) (string, error) {
	if args == nil {
		return "", nil
	}
	switch a := args.(type) {
	case ScalarArg:
		if len(params) == 0 {
			return "", fmt.Errorf("endpoint declares no parameters to bind scalar argument to")
		}
		return fmt.Sprintf("%s=%s", params[0].Name, url.QueryEscape(string(a))), nil

	case OrderedArgs:
		parts := make([]string, 0, len(a))
		for i, v := range a {
			if i >= len(params) {
				break
			}
			parts = append(parts, fmt.Sprintf("%s=%s", params[i].Name, url.QueryEscape(v)))
		}
		return strings.Join(parts, "&"), nil

	case KeyedArgs:
		parts := make([]string, 0, len(params))
		for _, p := range params {
			v, ok := a[p.Name]
			if !ok {
				return "", fmt.Errorf("missing parameter %q", p.Name)
			}
			parts = append(parts, fmt.Sprintf("%s=%s", p.Name, url.QueryEscape(v)))
		}
		return strings.Join(parts, "&"), nil

	default:
		return "", fmt.Errorf("unsupported argument type %T", args)
	}
}
