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

package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 4)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	// Case 2: define handlers
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct1{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct3{}))
	}

	// Case 3: handler returning error
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct3{}),
			func(p interface{}) error { return fmt.Errorf("Dummy error") },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 4: pointer types are distinct
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
	}
}

func TestTaskProcessorEventLoopOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance(ctxt, "testing-order", 8)
	assert.Nil(err)

	type sequenced struct{ idx int }
	results := make(chan int, 100)
	assert.Nil(uut.AddToTaskExecutionMap(
		reflect.TypeOf(sequenced{}), func(p interface{}) error {
			results <- p.(sequenced).idx
			return nil
		},
	))
	assert.Nil(uut.StartEventLoop(&wg))
	// Case 0: double start is rejected
	assert.NotNil(uut.StartEventLoop(&wg))

	// Case 1: tasks processed in submission order
	for itr := 0; itr < 50; itr++ {
		useCtxt, lclCancel := context.WithTimeout(ctxt, time.Second)
		assert.Nil(uut.Submit(useCtxt, sequenced{idx: itr}))
		lclCancel()
	}
	for itr := 0; itr < 50; itr++ {
		select {
		case got := <-results:
			assert.Equal(itr, got)
		case <-time.After(time.Second):
			assert.Failf("timed out", "waiting for task %d", itr)
		}
	}

	// Case 2: submit after stop fails
	assert.Nil(uut.StopEventLoop())
	wg.Wait()
	{
		useCtxt, lclCancel := context.WithTimeout(ctxt, time.Millisecond*100)
		defer lclCancel()
		assert.NotNil(uut.Submit(useCtxt, sequenced{idx: 100}))
	}
}
