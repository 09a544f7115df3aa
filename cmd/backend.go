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

package cmd

import (
	"context"

	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

// BackendWorkerCLIArgs arguments
type BackendWorkerCLIArgs struct {
	QueueGroup string `validate:"required"`
}

// GetBackendWorkerCLIFlags retrieve the set of CMD flags for the backend worker
func GetBackendWorkerCLIFlags(args *BackendWorkerCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "queue-group",
			Usage:       "NATS queue group backend workers share requests within",
			Aliases:     []string{"q"},
			EnvVars:     []string{"BACKEND_QUEUE_GROUP"},
			Value:       "rtgateway-backend",
			DefaultText: "rtgateway-backend",
			Destination: &args.QueueGroup,
			Required:    false,
		},
	}
}

// RunBackendWorker serve the in-process backend over NATS until the context ends
func RunBackendWorker(
	runtimeContext context.Context,
	params BackendWorkerCLIArgs,
	config common.BackendConfig,
	instance string,
	natsClient *core.NatsClient,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "backend-worker",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	service, err := backend.NewMemoryBackend(instance, MemoryBackendLogRetention)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define backend")
		return err
	}
	responder, err := backend.GetNATSResponder(
		runtimeContext, natsClient, config.SubjectPrefix, params.QueueGroup, service,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define NATS responder")
		return err
	}
	if err := responder.Start(); err != nil {
		return err
	}

	<-runtimeContext.Done()

	if err := responder.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during responder shutdown")
	}
	return nil
}
