package protocol

import (
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

/**
Client is the upward half of a layer: a single websocket connection to the
parent's server. The attached router services the actions a parent may send
back down (stop, get_tree, ...).
*/
type Client struct {
	address string
	router  *Router
	conn    *Conn
}

func NewClient(address string, router *Router) *Client {
	return &Client{
		address: address,
		router:  router,
	}
}

func (c *Client) Router() *Router {
	return c.router
}

func (c *Client) Linked() bool {
	return c.conn != nil
}

func (c *Client) Conn() *Conn {
	return c.conn
}

/**
dial the parent once
*/
func (c *Client) Connect() error {
	ws, _, dialErr := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/", c.address), nil)
	if dialErr != nil {
		return dialErr
	}
	c.conn = NewConn(ws, c.router)
	go c.conn.Monitor()
	return nil
}

/**
dial the parent with bounded exponential backoff: the delay starts at
'initial', doubles each attempt and is capped at 'ceiling'. gives up after
'attempts' tries.
*/
func (c *Client) ConnectWithRetry(initial time.Duration, ceiling time.Duration, attempts int) error {
	delay := initial
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.Connect()
		if lastErr == nil {
			return nil
		}
		log.Printf("WARNING: Could not reach parent at %s on attempt %d: %s", c.address, attempt, lastErr)
		if attempt == attempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
		if delay > ceiling {
			delay = ceiling
		}
	}
	return fmt.Errorf("parent at %s was not reachable after %d attempts: %s", c.address, attempts, lastErr)
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
