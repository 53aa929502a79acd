// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestScheduler_Registration(t *testing.T) {
	s, err := New("UTC")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	noop := func(context.Context) error { return nil }
	if err := s.AddJob("indexer", "0 * * * *", false, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("indexer", "0 * * * *", false, noop); err == nil {
		t.Error("duplicate job name must fail")
	}
	if !s.HasJob("indexer") {
		t.Error("HasJob = false")
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "indexer" || jobs[0].Schedule != "0 * * * *" {
		t.Errorf("ListJobs = %+v", jobs)
	}

	s.RemoveJob("indexer")
	if s.HasJob("indexer") {
		t.Error("job survived removal")
	}
}

func TestScheduler_InvalidTimezone(t *testing.T) {
	if _, err := New("Mars/Olympus"); err == nil {
		t.Error("invalid timezone must fail")
	}
}

func TestScheduler_InvalidCron(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := s.AddJob("bad", "not a cron", false, func(context.Context) error { return nil }); err == nil {
		t.Error("invalid cron expression must fail")
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	s, err := New("UTC")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ran := make(chan struct{}, 1)
	err = s.AddJob("immediate", "0 0 * * *", true, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("run-on-start job never fired")
	}
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s, err := New("UTC")
	if err != nil {
		t.Fatal(err)
	}

	cancelled := make(chan struct{})
	err = s.AddJob("blocking", "0 0 * * *", true, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not cancel the in-flight job")
	}
}
