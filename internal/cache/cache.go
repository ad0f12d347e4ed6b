package cache

import (
	"context"
	"time"
)

type MessageCache interface {
	StoreSent(ctx context.Context, internalID int64, gatewayMessageID string, sentAt time.Time) error
}

// FileCache remembers the gateway file id an attachment ref was uploaded as.
type FileCache interface {
	LookupFile(ctx context.Context, ref string) (fileID string, ok bool, err error)
	StoreFile(ctx context.Context, ref, fileID string) error
	// ForgetFile drops an id the gateway no longer accepts.
	ForgetFile(ctx context.Context, ref string) error
}
