// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sshexec_test

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/lib/engine/test"
	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

var _ = check.Suite(&ExecutorSuite{})

type ExecutorSuite struct{}

type serviceTarget struct {
	*test.SSHService
}

func (serviceTarget) VerifyHostKey(ssh.PublicKey, *ssh.Client) error { return nil }

type mitmTarget struct {
	*test.SSHService
}

func (mitmTarget) VerifyHostKey(key ssh.PublicKey, client *ssh.Client) error {
	return fmt.Errorf("host key failed verification: %#v", key)
}

func (s *ExecutorSuite) service(c *check.C, execfunc test.SSHExecFunc) (*test.SSHService, ssh.Signer) {
	_, hostpriv := test.GenerateTestKey(c)
	clientpub, clientpriv := test.GenerateTestKey(c)
	svc := &test.SSHService{
		Exec:           execfunc,
		HostKey:        hostpriv,
		AuthorizedUser: "root",
		AuthorizedKeys: []ssh.PublicKey{clientpub},
	}
	c.Assert(svc.Address(), check.Not(check.Equals), "")
	return svc, clientpriv
}

func (s *ExecutorSuite) TestExecute(c *check.C) {
	command := "cloudpod-node probe --vmid 101"
	svc, clientpriv := s.service(c, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
		c.Check(cmd, check.Equals, command)
		io.WriteString(stdout, "probe output\n")
		io.WriteString(stderr, "warning: slow io\n")
		return 0
	})
	defer svc.Close()

	exr := sshexec.New(serviceTarget{svc})
	exr.SetSigners(clientpriv)
	defer exr.Close()

	stdout, stderr, err := exr.Execute(context.Background(), command, nil)
	c.Assert(err, check.IsNil)
	c.Check(string(stdout), check.Equals, "probe output\n")
	c.Check(string(stderr), check.Equals, "warning: slow io\n")
}

func (s *ExecutorSuite) TestExitStatus(c *check.C) {
	svc, clientpriv := s.service(c, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
		io.WriteString(stderr, "no such vmid\n")
		return 2
	})
	defer svc.Close()

	exr := sshexec.New(serviceTarget{svc})
	exr.SetSigners(clientpriv)
	defer exr.Close()

	_, stderr, err := exr.Execute(context.Background(), "cloudpod-node destroy --vmid 9999", nil)
	c.Check(string(stderr), check.Equals, "no such vmid\n")
	ree, ok := err.(mpanel.RemoteExecutionError)
	c.Assert(ok, check.Equals, true)
	c.Check(ree.ExitCode, check.Equals, 2)
	c.Check(ree.Stderr, check.Equals, "no such vmid\n")
	c.Check(mpanel.Transient(err), check.Equals, true)
}

func (s *ExecutorSuite) TestStdin(c *check.C) {
	svc, clientpriv := s.service(c, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
		buf, err := io.ReadAll(stdin)
		c.Check(err, check.IsNil)
		stdout.Write(buf)
		return 0
	})
	defer svc.Close()

	exr := sshexec.New(serviceTarget{svc})
	exr.SetSigners(clientpriv)
	defer exr.Close()

	stdout, _, err := exr.Execute(context.Background(), "cat", fakeStdin("hello\n"))
	c.Assert(err, check.IsNil)
	c.Check(string(stdout), check.Equals, "hello\n")
}

func (s *ExecutorSuite) TestDeadline(c *check.C) {
	block := make(chan struct{})
	svc, clientpriv := s.service(c, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
		<-block
		return 0
	})
	defer svc.Close()
	defer close(block)

	exr := sshexec.New(serviceTarget{svc})
	exr.SetSigners(clientpriv)
	defer exr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := exr.Execute(ctx, "cloudpod-node snapshot --vmid 101", nil)
	c.Check(err, check.FitsTypeOf, mpanel.RemoteTimeoutError{})
	c.Check(mpanel.Transient(err), check.Equals, true)
}

func (s *ExecutorSuite) TestBadHostKey(c *check.C) {
	svc, clientpriv := s.service(c, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
		c.Error("exec called even though host key verification failed")
		return 0
	})
	defer svc.Close()

	exr := sshexec.New(mitmTarget{svc})
	exr.SetSigners(clientpriv)
	defer exr.Close()

	_, _, err := exr.Execute(context.Background(), "true", nil)
	c.Check(err, check.ErrorMatches, "host key failed verification: .*")
}

type fakeStdin string

func (f fakeStdin) Read(p []byte) (int, error) {
	n := copy(p, f)
	if n == len(f) {
		return n, io.EOF
	}
	return n, nil
}
