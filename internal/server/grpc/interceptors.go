package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/leaseflow/internal/model"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, payloads carry phone numbers
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if a, ok := ActorFromCtx(ctx); ok && a.ID != nil {
			fields = append(fields, zap.String("actor", a.ID.String()), zap.String("role", a.Role))
		}
		if r := ReasonOf(err); r != "" {
			fields = append(fields, zap.String("reason", r))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// landlordMethods are the calls a landlord token may make; staff may make all.
var landlordMethods = map[string]bool{
	"GetLease":        true,
	"ValidNextStates": true,
	"Approve":         true,
	"Reject":          true,
	"SigningStatus":   true,
	"VerifySignature": true,
	"ListAudit":       true,
}

// AuthUnary authenticates calls to the workflow service and stores the actor in context.
// Calls to other services pass through.
func AuthUnary(auth *Authenticator) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		method, ok := strings.CutPrefix(info.FullMethod, prefix)
		if !ok {
			return next(ctx, req)
		}
		actor, err := auth.Actor(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		if actor.Role == model.RoleLandlord && !landlordMethods[method] {
			return nil, status.Error(codes.PermissionDenied, "staff only")
		}
		return next(WithActor(ctx, actor), req)
	}
}
