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

// Registry is an ordered, read-only set of validated specs.
// Registry 是有序、只读、已校验的定义集合。
type Registry struct {
	specs []ProcessSpec
	index map[string]int
}

func newRegistry(specs []ProcessSpec) *Registry {
	r := &Registry{
		specs: specs,
		index: make(map[string]int, len(specs)),
	}
	for i, s := range specs {
		r.index[s.Name] = i
	}
	return r
}

// Get returns a copy of the named spec.
// Get 返回指定名称定义的副本。
func (r *Registry) Get(name string) (ProcessSpec, bool) {
	if r == nil {
		return ProcessSpec{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return ProcessSpec{}, false
	}
	return r.specs[i].Clone(), true
}

// Specs returns copies of all specs in declaration order.
// Specs 按声明顺序返回所有定义的副本。
func (r *Registry) Specs() []ProcessSpec {
	if r == nil {
		return nil
	}
	out := make([]ProcessSpec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Clone()
	}
	return out
}

// Names returns spec names in declaration order.
// Names 按声明顺序返回定义名称。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Name
	}
	return out
}

// Len returns the number of specs.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.specs)
}
