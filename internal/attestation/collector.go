package attestation

import (
	"context"
	"fmt"
	"sync"

	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/transport"
)

// VoteSink receives collected votes for a request. It reports done=true
// once the contribution reached a terminal status and no further votes are
// wanted.
type VoteSink func(req *VoteRequest, resp *VoteResponse) (done bool, err error)

// Collector fans a vote request out to verifier peers and feeds their
// signed responses into a sink until the sink reports completion.
type Collector struct {
	node *transport.Node // node provides the peer connections
	sink VoteSink        // sink consumes collected votes
}

// NewCollector creates a collector over the given transport node.
func NewCollector(node *transport.Node, sink VoteSink) *Collector {
	return &Collector{
		node: node,
		sink: sink,
	}
}

// Collect requests votes from all connected peers in parallel and feeds
// the responses through the sink serially, in arrival order. It returns
// the number of votes the sink accepted. Collection stops early once the
// sink reports done; remaining in-flight requests are cancelled.
func (c *Collector) Collect(ctx context.Context, req *VoteRequest) (int, error) {
	peers := c.node.Peers()
	if len(peers) == 0 {
		return 0, fmt.Errorf("no verifier peers connected")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	payload := req.Encode()
	responses := make(chan *VoteResponse, len(peers))

	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)

		go func(p *transport.Peer) {
			defer wg.Done()

			data, err := p.Request(ctx, payload)
			if err != nil {
				logger.Debug("vote request failed", "peer", p.Address(), "error", err)
				return
			}

			resp, err := DecodeVoteResponse(data)
			if err != nil {
				logger.Warn("bad vote response", "peer", p.Address(), "error", err)
				return
			}

			responses <- resp
		}(peer)
	}

	go func() {
		wg.Wait()
		close(responses)
	}()

	accepted := 0

	for resp := range responses {
		if resp.Refused {
			continue
		}

		done, err := c.sink(req, resp)
		if err != nil {
			logger.Debug("vote not accepted", "verifier", resp.Verifier, "error", err)
		} else {
			accepted++
		}

		if done {
			cancel()
			break
		}
	}

	return accepted, nil
}
