package mapper

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
)

func wrapErrParse(err error) error {
	return fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
}

// RequestToAcquireRequest maps the parameters from a jsonrpc2.Request into an entity.AcquireRequest.
func RequestToAcquireRequest(req jsonrpc2.Request) (*entity.AcquireRequest, error) {
	params := entity.AcquireRequest{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToReleaseRequest maps the parameters from a jsonrpc2.Request into an entity.ReleaseRequest.
func RequestToReleaseRequest(req jsonrpc2.Request) (*entity.ReleaseRequest, error) {
	params := entity.ReleaseRequest{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToStopRequest maps the parameters from a jsonrpc2.Request into an entity.StopRequest.
func RequestToStopRequest(req jsonrpc2.Request) (*entity.StopRequest, error) {
	params := entity.StopRequest{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}
