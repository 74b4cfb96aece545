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

// Liveness is the result of probing an OS process id
// Liveness 是探测操作系统进程号的结果
type Liveness int

const (
	Dead Liveness = iota
	Alive
)

func (l Liveness) String() string {
	if l == Alive {
		return "alive"
	}
	return "dead"
}

// Check probes whether pid still exists. It says nothing about whether the
// application inside is serving.
// Check 探测 pid 是否仍然存在，不代表应用本身是否正常服务。
func Check(pid int) Liveness {
	if pid <= 0 {
		return Dead
	}
	if isProcessAlive(pid) {
		return Alive
	}
	return Dead
}
