// Copyright 2026 The rtgateway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataplane

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed the session is closed
var ErrSessionClosed = errors.New("websocket session closed")

// closeGracePeriod longest wait for the close frame before the connection is dropped
const closeGracePeriod = time.Millisecond * 500

// ErrSendQueueFull the session's outbound queue is full
var ErrSendQueueFull = errors.New("websocket send queue full")

// WebSocketSessionParam session tuning
type WebSocketSessionParam struct {
	// SendQueueDepth outbound frames buffered per session
	SendQueueDepth int
	// WriteTimeout deadline for writing one frame
	WriteTimeout time.Duration
	// MaxMessageBytes largest inbound frame accepted; larger frames close the session
	MaxMessageBytes int64
}

// WebSocketSession a gorilla websocket connection adapted to registry.Transport
//
// Outbound frames pass through a bounded FIFO queue drained by a single write
// pump, so frames reach the client in Send order.
type WebSocketSession struct {
	common.Component
	conn      *websocket.Conn
	param     WebSocketSessionParam
	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebSocketSession wrap an upgraded websocket connection
func NewWebSocketSession(
	conn *websocket.Conn, param WebSocketSessionParam, logTags log.Fields,
) (*WebSocketSession, error) {
	if conn == nil {
		return nil, fmt.Errorf("websocket connection is required")
	}
	if param.SendQueueDepth < 1 {
		return nil, fmt.Errorf("send queue depth must be at least 1")
	}
	if param.WriteTimeout <= 0 {
		return nil, fmt.Errorf("write timeout must be positive")
	}
	return &WebSocketSession{
		Component: common.Component{LogTags: logTags},
		conn:      conn,
		param:     param,
		outbound:  make(chan []byte, param.SendQueueDepth),
		closed:    make(chan struct{}),
	}, nil
}

// Send queue one frame for delivery
func (s *WebSocketSession) Send(frame []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Probe send a websocket ping control frame
func (s *WebSocketSession) Probe() error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.conn.WriteControl(
		websocket.PingMessage, nil, time.Now().Add(s.param.WriteTimeout),
	)
}

// Close close the session. Safe to call more than once.
//
// Close does not wait on a stalled writer. The close frame is sent best effort
// and the connection is torn down within closeGracePeriod.
func (s *WebSocketSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		grace := s.param.WriteTimeout
		if grace > closeGracePeriod {
			grace = closeGracePeriod
		}
		go func() {
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(grace),
			)
			if err := s.conn.Close(); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Connection close failed")
			}
		}()
	})
	return nil
}

// Closed whether the session has been closed
func (s *WebSocketSession) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Run operate the session until the client goes away or the session is closed
//
// onFrame is called with every inbound data frame; onPong with every pong
// control frame. Both run on the caller's goroutine. The session is closed
// when Run returns.
func (s *WebSocketSession) Run(onFrame func(frame []byte), onPong func()) error {
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump()
	}()

	if s.param.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.param.MaxMessageBytes)
	}
	s.conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return nil
	})

	var readErr error
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		onFrame(data)
	}

	closedLocally := s.Closed()
	_ = s.Close()
	<-pumpDone
	if closedLocally || websocket.IsCloseError(
		readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	return readErr
}

func (s *WebSocketSession) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.param.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Write failed, closing session")
				_ = s.Close()
				return
			}
		}
	}
}
