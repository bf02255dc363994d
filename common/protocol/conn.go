package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

/**
Conn wraps a websocket connection with the request/response correlation the
protocol requires. Both ends of a connection are symmetric: either side may
issue requests, post messages, or service its peer's requests through the
attached router.
*/
type Conn struct {
	ws        *websocket.Conn
	router    *Router
	writeLock sync.Mutex
	pendLock  sync.Mutex
	pending   map[int64]chan Envelope
	nextReqId int64
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, router *Router) *Conn {
	return &Conn{
		ws:      ws,
		router:  router,
		pending: make(map[int64]chan Envelope),
		done:    make(chan struct{}),
	}
}

/**
signalled when the underlying websocket has gone away
*/
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		// Fail anything still waiting for a response
		c.pendLock.Lock()
		for reqId, waiter := range c.pending {
			close(waiter)
			delete(c.pending, reqId)
		}
		c.pendLock.Unlock()
	})
}

func (c *Conn) send(envelope Envelope) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.ws.WriteJSON(envelope)
}

/**
issue a non-posted request and block until the matching response arrives or
the context expires. the decoded success payload is unmarshalled into
'response' when non-nil.
*/
func (c *Conn) Request(ctx context.Context, action string, payload interface{}, response interface{}) error {
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}

	reqId := atomic.AddInt64(&c.nextReqId, 1)
	waiter := make(chan Envelope, 1)
	c.pendLock.Lock()
	c.pending[reqId] = waiter
	c.pendLock.Unlock()

	sendErr := c.send(Envelope{
		Action:  action,
		ReqId:   &reqId,
		Payload: raw,
	})
	if sendErr != nil {
		c.pendLock.Lock()
		delete(c.pending, reqId)
		c.pendLock.Unlock()
		return sendErr
	}

	select {
	case <-ctx.Done():
		c.pendLock.Lock()
		delete(c.pending, reqId)
		c.pendLock.Unlock()
		return ctx.Err()
	case <-c.done:
		return errors.New("connection closed while awaiting response")
	case envelope, ok := <-waiter:
		if !ok {
			return errors.New("connection closed while awaiting response")
		}
		if envelope.Result != RESULT_SUCCESS {
			return fmt.Errorf("peer responded with an error for '%s': %s", action, envelope.Reason)
		}
		if response != nil && len(envelope.Payload) > 0 {
			return json.Unmarshal(envelope.Payload, response)
		}
		return nil
	}
}

/**
send a posted request, for which no successful response will be produced
*/
func (c *Conn) Post(action string, payload interface{}) error {
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}
	return c.send(Envelope{
		Action:  action,
		Posted:  true,
		Payload: raw,
	})
}

/**
read frames until the connection drops, correlating responses to their
pending requests and routing everything else. each inbound request is
serviced in arrival order; responses may be interleaved freely.
*/
func (c *Conn) Monitor() {
	defer c.Close()
	for {
		_, raw, readErr := c.ws.ReadMessage()
		if readErr != nil {
			return
		}

		var envelope Envelope
		decodeErr := json.Unmarshal(raw, &envelope)
		if decodeErr != nil {
			// Cannot know the request id, but a failure must still be signalled
			sendErr := c.send(errorResponse(0, fmt.Sprintf("failed to decode message: %s", decodeErr)))
			if sendErr != nil {
				return
			}
			continue
		}

		if envelope.IsResponse() {
			c.pendLock.Lock()
			waiter, found := c.pending[*envelope.RspId]
			if found {
				delete(c.pending, *envelope.RspId)
			}
			c.pendLock.Unlock()
			if found {
				waiter <- envelope
			} else {
				log.Printf("WARNING: Discarding response with unknown rsp_id %d", *envelope.RspId)
			}
			continue
		}

		c.serviceRequest(envelope)
	}
}

func (c *Conn) serviceRequest(envelope Envelope) {
	var reqId int64
	if envelope.ReqId != nil {
		reqId = *envelope.ReqId
	}

	if envelope.Action == "" {
		c.send(errorResponse(reqId, "missing action"))
		return
	}

	handler, found := c.router.lookup(envelope.Action)
	if !found {
		c.send(errorResponse(reqId, fmt.Sprintf("unknown action '%s'", envelope.Action)))
		return
	}

	result, handlerErr := handler(c, envelope.Payload)
	if handlerErr != nil {
		c.send(errorResponse(reqId, handlerErr.Error()))
		return
	}
	if envelope.Posted {
		return
	}

	response, marshalErr := successResponse(envelope.Action, reqId, result)
	if marshalErr != nil {
		c.send(errorResponse(reqId, fmt.Sprintf("failed to encode response: %s", marshalErr)))
		return
	}
	c.send(response)
}
