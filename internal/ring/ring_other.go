//go:build !linux

package ring

import (
	"errors"

	"go.uber.org/zap"
)

// NewPacketRing is Linux-only; other hosts use NewUDPSource.
func NewPacketRing(cfg Config, logger *zap.Logger) (Source, error) {
	return nil, errors.New("packet ring ingress requires linux (AF_PACKET)")
}
