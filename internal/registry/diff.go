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

package registry

// Diff is the difference between a running registry and its replacement.
// Diff 表示运行中的注册表与新注册表之间的差异。
type Diff struct {
	// Added specs exist only in the new registry
	// Added 仅存在于新注册表中
	Added []ProcessSpec `json:"added"`

	// Removed specs exist only in the old registry
	// Removed 仅存在于旧注册表中
	Removed []ProcessSpec `json:"removed"`

	// Changed specs (new version) need stop-then-start
	// Changed 中的定义（新版本）需要先停止再启动
	Changed []ProcessSpec `json:"changed"`

	// Unchanged specs (new version) keep running; policy or group may differ
	// Unchanged 中的定义（新版本）保持运行，策略或分组可能不同
	Unchanged []ProcessSpec `json:"unchanged"`
}

// Empty reports whether applying the diff touches no process.
// Empty 判断应用差异是否不会影响任何进程。
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare computes the diff from old to new. A nil old registry means every
// spec of next is added.
// Compare 计算从旧注册表到新注册表的差异。
func Compare(old, next *Registry) Diff {
	var d Diff
	for _, spec := range next.Specs() {
		prev, ok := old.Get(spec.Name)
		switch {
		case !ok:
			d.Added = append(d.Added, spec)
		case !prev.RuntimeEqual(spec):
			d.Changed = append(d.Changed, spec)
		default:
			d.Unchanged = append(d.Unchanged, spec)
		}
	}
	for _, spec := range old.Specs() {
		if _, ok := next.Get(spec.Name); !ok {
			d.Removed = append(d.Removed, spec)
		}
	}
	return d
}
