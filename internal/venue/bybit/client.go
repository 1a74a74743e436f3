package bybit

import (
	"log/slog"

	"github.com/candlekeep/candlekeep/internal/venue"
)

// NewStreamClient creates a streaming client bound to the Bybit v5
// protocol.
func NewStreamClient(wsURL string, cfg venue.StreamConfig, logger *slog.Logger) venue.StreamClient {
	return venue.NewStream(NewProtocol(wsURL), cfg, logger)
}
