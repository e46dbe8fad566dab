// Package grpcserver exposes the staff-facing lease workflow API over gRPC.
// Messages are google.protobuf.Struct so the API needs no generated stubs.
package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/leaseflow/internal/convert"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/service"
	"github.com/and161185/leaseflow/internal/workflow"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "leaseflow.v1.LeaseWorkflow"

// AuditReader lists the audit trail of a lease.
type AuditReader interface {
	List(ctx context.Context, leaseID uuid.UUID) ([]model.AuditEntry, error)
}

// Services are the application services behind the API.
type Services struct {
	Workflow  service.WorkflowService
	Approvals service.ApprovalService
	OTP       service.OTPService
	Signing   service.SigningService
	Edits     service.EditService
	Disputes  service.DisputeService
	Audit     AuditReader
}

// Server wires services into gRPC handlers.
type Server struct {
	svc Services
}

// New constructs a gRPC server with injected services.
func New(svc Services) *Server {
	return &Server{svc: svc}
}

// Register attaches the workflow service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&serviceDesc, s)
}

type handler func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

// LeaseWorkflowServer is the handler type of the service descriptor.
type LeaseWorkflowServer interface {
	GetLease(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var methods = map[string]handler{
	"CreateLease":      (*Server).CreateLease,
	"GetLease":         (*Server).GetLease,
	"TransitionTo":     (*Server).TransitionTo,
	"ValidNextStates":  (*Server).ValidNextStates,
	"RequestApproval":  (*Server).RequestApproval,
	"Approve":          (*Server).Approve,
	"Reject":           (*Server).Reject,
	"RecordEdit":       (*Server).RecordEdit,
	"RecordEditsBatch": (*Server).RecordEditsBatch,
	"ListEdits":        (*Server).ListEdits,
	"GenerateOTP":      (*Server).GenerateOTP,
	"ResendOTP":        (*Server).ResendOTP,
	"InitiateSigning":  (*Server).InitiateSigning,
	"SendSigningLink":  (*Server).SendSigningLink,
	"SigningStatus":    (*Server).SigningStatus,
	"GetSignature":     (*Server).GetSignature,
	"VerifySignature":  (*Server).VerifySignature,
	"ResolveDispute":   (*Server).ResolveDispute,
	"CancelDispute":    (*Server).CancelDispute,
	"ListAudit":        (*Server).ListAudit,
}

var serviceDesc = func() grpc.ServiceDesc {
	d := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*LeaseWorkflowServer)(nil),
		Metadata:    "leaseflow/v1/workflow.proto",
	}
	for name, h := range methods {
		d.Methods = append(d.Methods, unary(name, h))
	}
	return d
}()

func unary(name string, h handler) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			call := func(ctx context.Context, req any) (any, error) {
				out, err := h(s, ctx, req.(*structpb.Struct))
				if err != nil {
					return nil, toStatus(err)
				}
				return out, nil
			}
			if ic == nil {
				return call(ctx, in)
			}
			return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

func actor(ctx context.Context) (model.Actor, error) {
	a, ok := ActorFromCtx(ctx)
	if !ok {
		return model.Actor{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return a, nil
}

// --- Leases ---

// CreateLease stores a new lease.
func (s *Server) CreateLease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	in := service.NewLease{
		ReferenceNumber: convert.String(req, "reference_number"),
		InitialState:    workflow.State(convert.String(req, "initial_state")),
		LandlordPhone:   convert.String(req, "landlord_phone"),
		TenantName:      convert.String(req, "tenant_name"),
		TenantPhone:     convert.String(req, "tenant_phone"),
		TenantEmail:     convert.String(req, "tenant_email"),
		Currency:        convert.String(req, "currency"),
	}
	if in.LandlordID, err = convert.UUIDPtr(req, "landlord_id"); err != nil {
		return nil, err
	}
	if in.TenantID, err = convert.UUID(req, "tenant_id"); err != nil {
		return nil, err
	}
	if in.MonthlyRent, err = convert.Int64(req, "monthly_rent"); err != nil {
		return nil, err
	}
	if in.DepositAmount, err = convert.Int64(req, "deposit_amount"); err != nil {
		return nil, err
	}
	if in.StartDate, err = convert.Time(req, "start_date"); err != nil {
		return nil, err
	}
	if in.EndDate, err = convert.Time(req, "end_date"); err != nil {
		return nil, err
	}
	l, err := s.svc.Workflow.CreateLease(ctx, in, a)
	if err != nil {
		return nil, err
	}
	return convert.Lease(l)
}

// GetLease returns a single lease by id.
func (s *Server) GetLease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.ownedByCaller(ctx, id); err != nil {
		return nil, err
	}
	l, err := s.svc.Workflow.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.Lease(l)
}

// TransitionTo moves a lease to target_state.
func (s *Server) TransitionTo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	target, ok := workflow.Parse(convert.String(req, "target_state"))
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "unknown target_state")
	}
	l, err := s.svc.Workflow.TransitionTo(ctx, id, target, a, convert.Map(req, "extra"))
	if err != nil {
		return nil, err
	}
	return convert.Lease(l)
}

// ValidNextStates lists the states the lease may move to.
func (s *Server) ValidNextStates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.ownedByCaller(ctx, id); err != nil {
		return nil, err
	}
	states, err := s.svc.Workflow.ValidNextStates(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.States(states)
}

// --- Approval ---

// RequestApproval opens a landlord approval request.
func (s *Server) RequestApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	ap, err := s.svc.Approvals.RequestApproval(ctx, id, a)
	if err != nil {
		return nil, err
	}
	return convert.Approval(ap)
}

// landlordOwns rejects landlord tokens for leases assigned to someone else.
func (s *Server) landlordOwns(ctx context.Context, a model.Actor, leaseID uuid.UUID) error {
	if a.Role != model.RoleLandlord {
		return nil
	}
	l, err := s.svc.Workflow.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}
	if !l.HasLandlord() || a.ID == nil || *l.LandlordID != *a.ID {
		return status.Error(codes.PermissionDenied, "not the lease landlord")
	}
	return nil
}

func (s *Server) ownedByCaller(ctx context.Context, leaseID uuid.UUID) error {
	a, ok := ActorFromCtx(ctx)
	if !ok {
		return nil
	}
	return s.landlordOwns(ctx, a, leaseID)
}

// Approve decides the pending request as approved.
func (s *Server) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.landlordOwns(ctx, a, id); err != nil {
		return nil, err
	}
	ap, err := s.svc.Approvals.Approve(ctx, id, convert.String(req, "comments"), a)
	if err != nil {
		return nil, err
	}
	return convert.Approval(ap)
}

// Reject decides the pending request as rejected.
func (s *Server) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.landlordOwns(ctx, a, id); err != nil {
		return nil, err
	}
	ap, err := s.svc.Approvals.Reject(ctx, id, convert.String(req, "reason"), convert.String(req, "comments"), a)
	if err != nil {
		return nil, err
	}
	return convert.Approval(ap)
}

// --- Edits ---

// RecordEdit stores one edit.
func (s *Server) RecordEdit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	v, err := s.svc.Edits.RecordEdit(ctx, id, convert.Edit(req), a)
	if err != nil {
		return nil, err
	}
	return convert.Version(v)
}

// RecordEditsBatch stores edits under one document version.
func (s *Server) RecordEditsBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	edits, err := convert.Edits(req, "edits")
	if err != nil {
		return nil, err
	}
	v, err := s.svc.Edits.RecordEditsBatch(ctx, id, edits, a)
	if err != nil {
		return nil, err
	}
	return convert.Version(v)
}

// ListEdits returns the edit history.
func (s *Server) ListEdits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	edits, err := s.svc.Edits.ListEdits(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.LeaseEdits(edits)
}

// --- OTP ---

// GenerateOTP issues and sends a code.
func (s *Server) GenerateOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	o, err := s.svc.OTP.GenerateAndSend(ctx, id, convert.String(req, "phone"), convert.String(req, "purpose"), a)
	if err != nil {
		return nil, err
	}
	return convert.OTP(o)
}

// ResendOTP expires open codes and issues a fresh one.
func (s *Server) ResendOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	o, err := s.svc.OTP.Resend(ctx, id, convert.String(req, "phone"), a)
	if err != nil {
		return nil, err
	}
	return convert.OTP(o)
}

// --- Signing ---

func method(req *structpb.Struct) (service.Method, error) {
	m := convert.String(req, "method")
	if m == "" {
		return "", nil
	}
	return service.ParseMethod(m)
}

// InitiateSigning moves an approved lease out for digital signing.
func (s *Server) InitiateSigning(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	m, err := method(req)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Signing.Initiate(ctx, id, m, a)
	if err != nil {
		return nil, err
	}
	return convert.InitiateResult(res)
}

// SendSigningLink delivers a fresh signing link.
func (s *Server) SendSigningLink(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	m, err := method(req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Signing.SendSigningLink(ctx, id, m); err != nil {
		return nil, err
	}
	return &structpb.Struct{}, nil
}

// SigningStatus projects the signing sequence.
func (s *Server) SigningStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.ownedByCaller(ctx, id); err != nil {
		return nil, err
	}
	st, err := s.svc.Signing.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.SigningStatus(st)
}

// GetSignature returns the latest signature with its image after rechecking its content hash.
func (s *Server) GetSignature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.Signing.Signature(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.SignatureRecord(rec, true)
}

// VerifySignature rechecks the content hash of the latest signature.
func (s *Server) VerifySignature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.ownedByCaller(ctx, id); err != nil {
		return nil, err
	}
	rec, err := s.svc.Signing.Signature(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.SignatureRecord(rec, false)
}

// --- Disputes ---

// ResolveDispute applies changed terms and re-sends the lease for signing.
func (s *Server) ResolveDispute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	var c service.TermsChange
	if c.MonthlyRent, err = convert.Int64Ptr(req, "monthly_rent"); err != nil {
		return nil, err
	}
	if c.DepositAmount, err = convert.Int64Ptr(req, "deposit_amount"); err != nil {
		return nil, err
	}
	if c.StartDate, err = convert.TimePtr(req, "start_date"); err != nil {
		return nil, err
	}
	if c.EndDate, err = convert.TimePtr(req, "end_date"); err != nil {
		return nil, err
	}
	l, err := s.svc.Disputes.ResolveDispute(ctx, id, c, convert.String(req, "notes"), a)
	if err != nil {
		return nil, err
	}
	return convert.Lease(l)
}

// CancelDispute cancels a disputed lease.
func (s *Server) CancelDispute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	l, err := s.svc.Disputes.CancelDispute(ctx, id, convert.String(req, "notes"), a)
	if err != nil {
		return nil, err
	}
	return convert.Lease(l)
}

// --- Audit ---

// ListAudit returns the audit trail.
func (s *Server) ListAudit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(req, "lease_id")
	if err != nil {
		return nil, err
	}
	if err := s.ownedByCaller(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.svc.Audit.List(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.AuditEntries(entries)
}
