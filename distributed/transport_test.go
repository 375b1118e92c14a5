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

package distributed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGRPCTransportCachesConnections(t *testing.T) {
	tr := NewGRPCTransport("node-1")
	defer tr.Close()

	assert.Equal(t, "node-1", tr.NodeID())

	c1, err := tr.Conn("localhost:19999")
	require.NoError(t, err)
	c2, err := tr.Conn("localhost:19999")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := tr.Conn("localhost:19998")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestGRPCTransportCloseIsIdempotent(t *testing.T) {
	tr := NewGRPCTransport("node-1")
	_, err := tr.Conn("localhost:19999")
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestGRPCTransportImplementsClusterTransport(t *testing.T) {
	var _ ClusterTransport = NewGRPCTransport("n")
}
