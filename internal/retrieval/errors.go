package retrieval

import (
	"errors"

	"github.com/rcliao/contextai/internal/aierr"
)

var errNoIndex = aierr.Wrap(aierr.KindVectorSearch, "retrieve", errors.New("no vector index configured"))
