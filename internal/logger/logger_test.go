/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"
)

type LoggerTestSuite struct {
	suite.Suite
	saved zapcore.Level
}

func (s *LoggerTestSuite) SetupTest() {
	s.saved = level.Level()
}

func (s *LoggerTestSuite) TearDownTest() {
	level.SetLevel(s.saved)
	SetDevelopment(false)
}

func (s *LoggerTestSuite) TestLevels() {
	var buf bytes.Buffer
	s.Require().NoError(SetLevel("debug"))
	l := New("test", &buf)

	l.Debugf("this is debugf %s", "hello world")
	l.Infof("this is infof %s", "hello world")
	l.Info("this is info")
	l.Warnf("warn message")
	l.Errorf("this is errorf %s", "hello world")
	l.Error("this is error")
	_ = l.Sync()

	out := buf.String()
	s.Contains(out, "DEBUG")
	s.Contains(out, "this is debugf hello world")
	s.Contains(out, "INFO")
	s.Contains(out, "WARN")
	s.Contains(out, "this is error")
	s.Contains(out, "test")
}

func (s *LoggerTestSuite) TestLevelFilters() {
	var buf bytes.Buffer
	s.Require().NoError(SetLevel("WARN"))
	l := New("filtered", &buf)
	l.Debugf("hidden debug")
	l.Infof("hidden info")
	l.Warnf("shown warn")
	s.NotContains(buf.String(), "hidden")
	s.Contains(buf.String(), "shown warn")
	s.False(Enabled(zapcore.InfoLevel))
	s.True(Enabled(zapcore.ErrorLevel))
}

func (s *LoggerTestSuite) TestInvalidLevel() {
	s.Error(SetLevel("loud"))
}

func (s *LoggerTestSuite) TestNamedAndWith() {
	var buf bytes.Buffer
	s.Require().NoError(SetLevel("info"))
	l := New("root", &buf).Named("child").With("session", "abc")
	l.Infof("hello")
	s.Contains(buf.String(), "root.child")
	s.Contains(buf.String(), "abc")
}

func (s *LoggerTestSuite) TestDevelopmentColors() {
	var buf bytes.Buffer
	SetDevelopment(true)
	l := New("dev", &buf)
	l.Warnf("colored")
	s.Contains(buf.String(), "\x1b[")
}

func (s *LoggerTestSuite) TestNop() {
	s.NotPanics(func() { Nop().Errorf("discarded %d", 1) })
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
