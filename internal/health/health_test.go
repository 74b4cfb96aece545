/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package health

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistrarClaim(t *testing.T) {
	r := NewRegistrar()

	require.NoError(t, r.Claim(3001, "backend-1"))
	require.NoError(t, r.Claim(3001, "backend-1"), "re-claim by the owner succeeds")
	require.NoError(t, r.Claim(0, "worker"), "port 0 is never claimed")
	assert.Equal(t, []int{3001}, r.Ports())

	err := r.Claim(3001, "backend-2")
	var conflict *PortConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 3001, conflict.Port)
	assert.Equal(t, "backend-1", conflict.Owner)
	assert.Equal(t, "backend-2", conflict.Claimant)
	assert.Contains(t, err.Error(), "backend-1")

	r.Release(3001)
	require.NoError(t, r.Claim(3001, "backend-2"))
	owner, ok := r.Owner(3001)
	assert.True(t, ok)
	assert.Equal(t, "backend-2", owner)
}

func TestRegistrarReleaseOwner(t *testing.T) {
	r := NewRegistrar()
	require.NoError(t, r.Claim(4000, "frontend-1"))
	require.NoError(t, r.Claim(4001, "frontend-2"))

	r.ReleaseOwner("frontend-1")
	_, ok := r.Owner(4000)
	assert.False(t, ok)
	assert.Equal(t, []int{4001}, r.Ports())
}

// **Property 1: 端口独占**
// For any sequence of claims and releases, a port has at most one owner and a
// claim fails exactly when another name holds the port.
// 对任意占用和释放序列，一个端口最多只有一个持有者，仅当被其他名称持有时占用失败。
func TestProperty_RegistrarExclusive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistrar()
		model := make(map[int]string)

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			port := rapid.IntRange(1, 5).Draw(t, "port")
			name := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "name")

			if rapid.Bool().Draw(t, "release") {
				r.Release(port)
				delete(model, port)
				continue
			}

			err := r.Claim(port, name)
			owner, held := model[port]
			if held && owner != name {
				if err == nil {
					t.Fatalf("claim of %d by %s should conflict with %s", port, name, owner)
				}
				continue
			}
			if err != nil {
				t.Fatalf("claim of %d by %s failed: %v", port, name, err)
			}
			model[port] = name
		}

		for port, owner := range model {
			got, ok := r.Owner(port)
			if !ok || got != owner {
				t.Fatalf("port %d: expected owner %s, got %q", port, owner, got)
			}
		}
		if len(r.Ports()) != len(model) {
			t.Fatalf("expected %d claims, got %d", len(model), len(r.Ports()))
		}
	})
}

func TestAvailable(t *testing.T) {
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	assert.False(t, Available(port))

	listener.Close()
	assert.True(t, Available(port))
}

func TestCheck(t *testing.T) {
	assert.Equal(t, Alive, Check(os.Getpid()))
	assert.Equal(t, Dead, Check(0))
	assert.Equal(t, Dead, Check(-1))
	assert.Equal(t, "alive", Alive.String())
	assert.Equal(t, "dead", Dead.String())
}
