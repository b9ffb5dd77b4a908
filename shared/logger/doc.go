// Copyright 2025 TierFlow
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging with multi-tenant
// context fields (tenant, request ID) shared by all TierFlow services.
package logger
