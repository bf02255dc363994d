package protocol

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

/**
Server accepts websocket connections from children (and, on the root, from
external clients). A single endpoint serves every action; routing is by the
envelope's action field, not the URL.
*/
type Server struct {
	router   *Router
	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server
	connLock sync.Mutex
	conns    map[*Conn]struct{}
}

func NewServer(router *Router) *Server {
	return &Server{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[*Conn]struct{}),
	}
}

/**
bind an ephemeral port and start accepting connections in the background.
returns the host:port address children should dial.
*/
func (s *Server) Start() (string, error) {
	listener, listenErr := net.Listen("tcp", ":0")
	if listenErr != nil {
		log.Printf("Could not bind server socket: %s", listenErr)
		return "", listenErr
	}
	s.listener = listener
	s.server = &http.Server{Handler: s}

	go func() {
		serveErr := s.server.Serve(listener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Printf("Websocket server stopped: %s", serveErr)
		}
	}()

	return s.Address(), nil
}

/**
externally reachable host:port of the bound socket. falls back to the
loopback address when the hostname cannot be resolved.
*/
func (s *Server) Address() string {
	port := s.listener.Addr().(*net.TCPAddr).Port
	host := "127.0.0.1"
	hostname, hostErr := os.Hostname()
	if hostErr == nil {
		addrs, lookupErr := net.LookupHost(hostname)
		if lookupErr == nil && len(addrs) > 0 {
			host = addrs[0]
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, upgradeErr := s.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		log.Printf("Could not upgrade connection from %s: %s", r.RemoteAddr, upgradeErr)
		return
	}

	conn := NewConn(ws, s.router)
	s.connLock.Lock()
	s.conns[conn] = struct{}{}
	s.connLock.Unlock()

	conn.Monitor()

	s.connLock.Lock()
	delete(s.conns, conn)
	s.connLock.Unlock()
}

func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}
	s.connLock.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connLock.Unlock()
}
