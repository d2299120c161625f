package main

import "github.com/apollo-sequencer/sequencer/internal/apollo"

// noopL1Provider is a local stand-in for the L1 scraper, which the
// core treats as an external collaborator reachable only through
// batcher.L1Port (the scraper's own implementation, gas pricing and
// log following are out of this repository's scope). It always
// reports ready with no pending handlers, which is sufficient to drive
// the batcher end-to-end against a chain with no L1 messages queued.
type noopL1Provider struct{}

func (noopL1Provider) StartBlock(apollo.BlockNumber, bool) error { return nil }

func (noopL1Provider) PendingL1Handlers(int) []apollo.InternalRpcTransaction { return nil }

func (noopL1Provider) CommitBlock(consumed, rejected []apollo.TransactionHash) error { return nil }
