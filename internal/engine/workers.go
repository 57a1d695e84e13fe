package engine

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/dyluth/chanrelay/pkg/relay"
)

// pool runs posts on a shared queue and commands on per-operator shards, so
// one operator's commands stay in order while different operators proceed
// in parallel.
type pool struct {
	posts    chan *relay.PostEvent
	commands []chan *relay.OperatorCommand
	wg       sync.WaitGroup
}

func newPool(ctx context.Context, workers int,
	route func(context.Context, *relay.PostEvent),
	handle func(context.Context, *relay.OperatorCommand),
) *pool {
	p := &pool{
		posts:    make(chan *relay.PostEvent, workers*4),
		commands: make([]chan *relay.OperatorCommand, workers),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for event := range p.posts {
				route(ctx, event)
			}
		}()
	}

	for i := range p.commands {
		queue := make(chan *relay.OperatorCommand, 16)
		p.commands[i] = queue
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for cmd := range queue {
				handle(ctx, cmd)
			}
		}()
	}
	return p
}

func (p *pool) submitPost(event *relay.PostEvent) {
	p.posts <- event
}

func (p *pool) submitCommand(cmd *relay.OperatorCommand) {
	p.commands[shardFor(cmd.OperatorID, len(p.commands))] <- cmd
}

// close stops intake and waits for queued work to finish.
func (p *pool) close() {
	close(p.posts)
	for _, q := range p.commands {
		close(q)
	}
	p.wg.Wait()
}

func shardFor(operatorID string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(operatorID))
	return int(h.Sum32() % uint32(shards))
}
