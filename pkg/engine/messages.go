package engine

import (
	"context"
	"encoding/json"

	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/throttle"
)

// SendMessage sends a string payload to target.method.
func (c *Controller) SendMessage(ctx context.Context, target, method, data string) error {
	_, err := c.call(ctx, protocol.SendMessage{Target: target, Name: method, Data: data}, target)
	return err
}

// SendJSONMessage sends a structured payload to target.method.
func (c *Controller) SendJSONMessage(ctx context.Context, target, method string, data map[string]any) error {
	_, err := c.call(ctx, protocol.SendJSONMessage{Target: target, Name: method, Data: data}, target)
	return err
}

// QueueMessage sends immediately when the engine is ready. Otherwise the
// message waits in the pre-ready queue and is replayed once Create
// succeeds; a full queue evicts its oldest entry.
func (c *Controller) QueueMessage(ctx context.Context, target, method, data string) error {
	return c.enqueue(ctx, pendingMessage{target: target, method: method, text: data})
}

// QueueJSONMessage is QueueMessage for structured payloads.
func (c *Controller) QueueJSONMessage(ctx context.Context, target, method string, data map[string]any) error {
	return c.enqueue(ctx, pendingMessage{target: target, method: method, json: data, isJSON: true})
}

func (c *Controller) enqueue(ctx context.Context, m pendingMessage) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return c.disposedErr(protocol.MethodSendMessage)
	}
	if c.state.Active() && !c.replaying {
		c.mu.Unlock()
		if m.isJSON {
			return c.SendJSONMessage(ctx, m.target, m.method, m.json)
		}
		return c.SendMessage(ctx, m.target, m.method, m.text)
	}
	evicted := c.queue.push(m)
	c.stats.Queued++
	if evicted {
		c.stats.QueueDropped++
	}
	c.mu.Unlock()

	if evicted {
		c.logger.Warn("pre-ready queue full, dropped oldest message", "capacity", c.cfg.QueueCapacity)
	}
	return nil
}

// PendingCount returns the number of messages waiting for the engine.
func (c *Controller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// SendBinaryMessage sends data to target.method. Payloads larger than the
// codec's single-message limit are split into a chunked transfer; smaller
// ones travel in one envelope, gzip-compressed when compress is set and it
// helps.
func (c *Controller) SendBinaryMessage(ctx context.Context, target, method string, data []byte, compress bool) error {
	if err := c.requireActive(protocol.MethodSendBinaryMessage); err != nil {
		return err
	}
	if c.codec.NeedsChunking(len(data)) {
		return c.sendChunked(ctx, target, method, data)
	}

	env, err := c.codec.EncodeWithMetadata(data, compress)
	if err != nil {
		return c.commError(target, protocol.MethodSendBinaryMessage, err)
	}
	if _, err := c.call(ctx, protocol.SendBinaryMessage{Target: target, Name: method, Envelope: env}, target); err != nil {
		return err
	}
	c.mu.Lock()
	c.stats.BinarySent++
	c.mu.Unlock()
	return nil
}

// sendChunked streams data as header, data chunks and footer. Chunks are
// produced one at a time; a failure abandons the transfer.
func (c *Controller) sendChunked(ctx context.Context, target, method string, data []byte) error {
	tr, chunks := c.codec.CreateChunks(data)
	c.logger.Debug("chunked transfer", "transfer_id", tr.ID, "size", tr.TotalSize, "chunks", tr.TotalChunks)

	for chunk := range chunks {
		if _, err := c.call(ctx, protocol.SendBinaryChunk{Target: target, Name: method, Chunk: chunk}, target); err != nil {
			c.logger.Warn("chunked transfer aborted", "transfer_id", tr.ID, "type", chunk.Type, "index", chunk.ChunkIndex, "error", err)
			return err
		}
		c.mu.Lock()
		c.stats.ChunksSent++
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.stats.ChunkedTransfers++
	c.stats.BinarySent++
	c.mu.Unlock()
	return nil
}

// sendAny delivers a batched or throttled value by its dynamic type.
func (c *Controller) sendAny(ctx context.Context, target, method string, data any) error {
	switch v := data.(type) {
	case string:
		return c.SendMessage(ctx, target, method, v)
	case map[string]any:
		return c.SendJSONMessage(ctx, target, method, v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return c.SendMessage(ctx, target, method, string(b))
	}
}

// Batch queues data for the next batch flush. Data is a string, a
// map[string]any, or any JSON-encodable value. Pending values with the same
// target and method are coalesced. Flush failures are logged, not returned.
func (c *Controller) Batch(target, method string, data any) error {
	return c.BatchMessage(batch.Message{Target: target, Method: method, Data: data})
}

// BatchMessage queues m for the next batch flush.
func (c *Controller) BatchMessage(m batch.Message) error {
	if c.IsDisposed() {
		return c.disposedErr(protocol.MethodSendMessage)
	}
	return c.batcher.QueueMessage(m)
}

// FlushBatch sends pending batched messages now.
func (c *Controller) FlushBatch(ctx context.Context) error {
	return c.batcher.Flush(ctx)
}

// SetRate limits sends of target.method through SendThrottled to hz per
// second. hz <= 0 removes the limit.
func (c *Controller) SetRate(target, method string, hz float64, strategy throttle.Strategy) {
	c.throttler.SetRate(target, method, hz, strategy)
}

// SendThrottled sends data subject to the rate configured with SetRate.
func (c *Controller) SendThrottled(ctx context.Context, target, method string, data any) (throttle.Result, error) {
	if c.IsDisposed() {
		return throttle.Dropped, c.disposedErr(protocol.MethodSendMessage)
	}
	return c.throttler.Send(ctx, target, method, data)
}

// SendDelta sends state for target.method as a delta against the last state
// sent for the same pair, or in full when the delta would not save enough.
// The payload is wrapped as {"_delta": bool, "state": ...}.
func (c *Controller) SendDelta(ctx context.Context, target, method string, state map[string]any) (delta.Result, error) {
	if err := c.requireActive(protocol.MethodSendJSONMessage); err != nil {
		return delta.Result{}, err
	}
	key := target + ":" + method
	res, err := c.deltas.ComputeWithHistory(key, state)
	if err != nil {
		return delta.Result{}, err
	}
	if err := c.SendJSONMessage(ctx, target, method, res.Wrap()); err != nil {
		// The receiver never saw this state; start over with a full send.
		c.deltas.Reset(key)
		return delta.Result{}, err
	}
	return res, nil
}

// ExecuteConsoleCommand runs an engine console command.
func (c *Controller) ExecuteConsoleCommand(ctx context.Context, command string) error {
	_, err := c.call(ctx, protocol.ExecuteConsoleCommand{Command: command}, "")
	return err
}

// LoadLevel loads a level. The engine reports completion with onSceneLoaded.
func (c *Controller) LoadLevel(ctx context.Context, level string) error {
	_, err := c.call(ctx, protocol.LoadLevel{LevelName: level}, "")
	return err
}

// ApplyQualitySettings applies the fields set in q; unset fields are left
// unchanged.
func (c *Controller) ApplyQualitySettings(ctx context.Context, q protocol.QualitySettings) error {
	_, err := c.call(ctx, protocol.ApplyQualitySettings{Settings: q}, "")
	return err
}

// QualitySettings returns the engine's effective quality settings.
func (c *Controller) QualitySettings(ctx context.Context) (protocol.QualitySettings, error) {
	res, err := c.call(ctx, protocol.GetQualitySettings{}, "")
	if err != nil {
		return protocol.QualitySettings{}, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return protocol.QualitySettings{}, c.unexpectedReply(protocol.MethodGetQualitySettings, res)
	}
	return protocol.QualityFromMap(m), nil
}

// IsInBackground reports whether the engine runs in the background.
func (c *Controller) IsInBackground(ctx context.Context) (bool, error) {
	res, err := c.call(ctx, protocol.IsInBackground{}, "")
	if err != nil {
		return false, err
	}
	return protocol.ToBool(res), nil
}

// SetStreamingCachePath points the engine's streaming cache at path.
func (c *Controller) SetStreamingCachePath(ctx context.Context, path string) error {
	_, err := c.call(ctx, protocol.SetStreamingCachePath{Path: path}, "")
	return err
}

// EngineVersion asks the native plugin for the engine version. It does not
// require a created engine.
func (c *Controller) EngineVersion(ctx context.Context) (string, error) {
	res, err := c.query(ctx, protocol.GetEngineVersion{})
	if err != nil {
		return "", err
	}
	s, ok := res.(string)
	if !ok {
		return "", c.unexpectedReply(protocol.MethodGetEngineVersion, res)
	}
	return s, nil
}

// IsSupported asks the native plugin whether the engine runs on this
// platform.
func (c *Controller) IsSupported(ctx context.Context) (bool, error) {
	res, err := c.query(ctx, protocol.IsEngineSupported{})
	if err != nil {
		return false, err
	}
	return protocol.ToBool(res), nil
}
