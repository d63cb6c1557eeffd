package scanning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PQCA/cbomkit-go/internal/bus"
	"github.com/PQCA/cbomkit-go/internal/log"
)

// DeleteCBOMHandler removes the persisted record of a scan. It is an
// independent command handler sharing the bus with the sagas, registered
// once at process start with the injected bus.
type DeleteCBOMHandler struct {
	repo Repository
}

func NewDeleteCBOMHandler(repo Repository) *DeleteCBOMHandler {
	return &DeleteCBOMHandler{repo: repo}
}

func (h *DeleteCBOMHandler) Handle(ctx context.Context, cmd bus.Command) error {
	c, ok := cmd.(*DeleteCBOMCommand)
	if !ok {
		return nil
	}
	ctx = log.WithScanID(ctx, c.ID)
	if err := h.repo.Delete(ctx, c.ID); err != nil {
		return fmt.Errorf("deleting scan %s: %w", c.ID, err)
	}
	slog.InfoContext(ctx, "scan record deleted")
	return nil
}
