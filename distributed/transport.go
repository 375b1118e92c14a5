/*
 * Copyright 2025 The EventFlux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package distributed declares the cluster-mode collaborator interfaces.
// Cluster coordination itself (consensus, membership, state transfer)
// lives outside this module; an engine running in cluster mode is handed
// a ClusterTransport and exchanges snapshots and events through it.
package distributed

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClusterTransport connects one engine node to its peers. The engine
// only ever needs a client connection per peer; servers, codegen and
// routing are the transport implementation's concern.
type ClusterTransport interface {
	// NodeID identifies this node within the cluster.
	NodeID() string
	// Conn returns a (possibly cached) client connection to a peer
	// address.
	Conn(target string) (grpc.ClientConnInterface, error)
	// Close releases every held connection.
	Close() error
}

// GRPCTransport is the default ClusterTransport: lazily dialed, cached
// gRPC client connections per peer address.
type GRPCTransport struct {
	nodeID string

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewGRPCTransport builds a transport identified as nodeID. Extra dial
// options override the insecure default used inside trusted networks.
func NewGRPCTransport(nodeID string, opts ...grpc.DialOption) *GRPCTransport {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCTransport{
		nodeID: nodeID,
		conns:  make(map[string]*grpc.ClientConn),
		opts:   opts,
	}
}

func (t *GRPCTransport) NodeID() string { return t.nodeID }

func (t *GRPCTransport) Conn(target string) (grpc.ClientConnInterface, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, t.opts...)
	if err != nil {
		return nil, fmt.Errorf("distributed: dial %s: %w", target, err)
	}
	t.conns[target] = conn
	return conn, nil
}

func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for target, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("distributed: close %s: %w", target, err)
		}
		delete(t.conns, target)
	}
	return firstErr
}
