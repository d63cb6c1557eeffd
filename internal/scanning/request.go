package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/log"
	"github.com/PQCA/cbomkit-go/internal/model"

	"github.com/package-url/packageurl-go"
)

// RequestHandler answers RequestScanCommand: it creates and persists the
// aggregate, registers a process manager for the scan id and emits the first
// pipeline command. It is registered once at process start. The branch
// fallback re-issues the request for an id whose manager already exists; the
// live instance is reused then, re-registration is a no-op.
//
// Managers of successful scans stay in the map and on the bus for the
// process lifetime; only failed scans unregister through compensation. The
// process runs one pipeline per invocation, so no eviction is needed.
type RequestHandler struct {
	deps Deps

	mu       sync.Mutex
	managers map[model.ScanID]*ProcessManager
}

func NewRequestHandler(deps Deps) *RequestHandler {
	return &RequestHandler{
		deps:     deps,
		managers: make(map[model.ScanID]*ProcessManager),
	}
}

func (h *RequestHandler) Handle(ctx context.Context, cmd bus.Command) error {
	c, ok := cmd.(*RequestScanCommand)
	if !ok {
		return nil
	}
	ctx = log.WithScanID(ctx, c.ID)
	slog.InfoContext(ctx, "scan requested", "input", c.Input, "branch", c.Branch)

	var (
		purl   *packageurl.PackageURL
		gitURL model.GitURL
		next   bus.Command
	)
	if strings.HasPrefix(c.Input, "pkg:") {
		p, err := packageurl.FromString(c.Input)
		if err != nil {
			return fmt.Errorf("parsing purl %q: %w", c.Input, err)
		}
		purl = &p
		next = &ResolvePurlCommand{ID: c.ID, Credentials: c.Credentials}
	} else {
		gitURL = model.GitURL(c.Input)
		next = &CloneRepositoryCommand{ID: c.ID, Credentials: c.Credentials}
	}

	agg := model.NewScanAggregate(c.ID, purl, gitURL, model.Revision(c.Branch), c.Subfolder)
	if err := h.deps.Repository.Save(ctx, agg); err != nil {
		return fmt.Errorf("persisting new scan: %w", err)
	}

	h.mu.Lock()
	mgr, ok := h.managers[c.ID]
	if !ok {
		mgr = NewProcessManager(c.ID, h.deps)
		h.managers[c.ID] = mgr
	}
	h.mu.Unlock()
	h.deps.Bus.Register(mgr, PipelineCommandTypes()...)

	return h.deps.Bus.Send(ctx, next)
}
