package common

import (
	"github.com/pkg/errors"
)

var errMissingCollaborator = errors.New("chain context requires a client and a signer")

func errInvalidAddress(addr string) error {
	return errors.Errorf("invalid gas provider address %q", addr)
}
