package peerlink

import "github.com/cockroachdb/errors"

func errUnknownPeer(peerID uint64) error {
	return errors.Newf("peerlink: unknown peer %d", peerID)
}

func errSendFailed(peerID uint64, cause error) error {
	return errors.Wrapf(cause, "peerlink: send to peer %d failed", peerID)
}
