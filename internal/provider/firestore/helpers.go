package firestore

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// isNotFound returns true if the error is a Firestore NotFound error.
func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

// isAlreadyExists returns true for Create on an existing document.
func isAlreadyExists(err error) bool {
	return err != nil && status.Code(err) == codes.AlreadyExists
}

func isExpired(expireAt time.Time) bool {
	return !expireAt.IsZero() && time.Now().After(expireAt)
}
