// Package logging builds the zap loggers used across ctxpack.
//
// Components take a plain *zap.Logger through a WithLogger option. Request
// handlers (HTTP, MCP) use the context-first Logger so every line carries
// the trace, project, context and request ids found in ctx:
//
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithProject(ctx, "/src/app")
//	logger.Info(ctx, "context built", zap.Int("files", 12))
//
// Output goes to stderr; stdout is reserved for command output and the MCP
// stdio transport. Errors are never sampled, and string values matching the
// redaction rules are masked before they are encoded.
package logging
