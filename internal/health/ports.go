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

// Package health tracks port claims and answers best-effort liveness checks.
// health 包跟踪端口占用并提供尽力而为的存活检查。
package health

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
)

// PortConflictError reports a port that cannot be claimed
// PortConflictError 表示无法占用的端口
type PortConflictError struct {
	Port     int
	Owner    string // 当前持有者，外部进程时为空 / Current holder, empty for a foreign process
	Claimant string
}

func (e *PortConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("port %d requested by %s is already bound by another program", e.Port, e.Claimant)
	}
	return fmt.Sprintf("port %d requested by %s is already claimed by %s", e.Port, e.Claimant, e.Owner)
}

// Registrar is the bookkeeping of which process holds which port
// Registrar 记录哪个进程持有哪个端口
type Registrar struct {
	owners map[int]string
	mu     sync.RWMutex
}

// NewRegistrar creates an empty Registrar
// NewRegistrar 创建空的 Registrar
func NewRegistrar() *Registrar {
	return &Registrar{owners: make(map[int]string)}
}

// Claim records port as held by name. Port 0 is never claimed. Claiming a port
// already held by the same name succeeds.
// Claim 记录端口由 name 持有，端口 0 不会被占用，同名重复占用视为成功。
func (r *Registrar) Claim(port int, name string) error {
	if port == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[port]; ok && owner != name {
		return &PortConflictError{Port: port, Owner: owner, Claimant: name}
	}
	r.owners[port] = name
	return nil
}

// Release frees port regardless of owner
// Release 释放端口，不论持有者
func (r *Registrar) Release(port int) {
	r.mu.Lock()
	delete(r.owners, port)
	r.mu.Unlock()
}

// ReleaseOwner frees every port held by name
// ReleaseOwner 释放 name 持有的全部端口
func (r *Registrar) ReleaseOwner(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for port, owner := range r.owners {
		if owner == name {
			delete(r.owners, port)
		}
	}
}

// Owner returns the holder of port
// Owner 返回端口的持有者
func (r *Registrar) Owner(port int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[port]
	return owner, ok
}

// Ports returns the claimed ports in ascending order
// Ports 按升序返回已占用端口
func (r *Registrar) Ports() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ports := make([]int, 0, len(r.owners))
	for port := range r.owners {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Available checks whether the OS lets us bind port. A false answer means
// some program already listens there; a true answer can be stale immediately.
// Available 检查操作系统是否允许绑定端口，结果仅供参考。
func Available(port int) bool {
	// Try to listen on the port / 尝试监听端口
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
