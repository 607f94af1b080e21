package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inventory.v1.InventoryService"

const (
	MethodDecrement           = "Decrement"
	MethodIncrement           = "Increment"
	MethodReserve             = "Reserve"
	MethodRelease             = "Release"
	MethodCommit              = "Commit"
	MethodExpand              = "Expand"
	MethodValidateForCheckout = "ValidateForCheckout"
	MethodAvailability        = "Availability"
	MethodStatus              = "Status"
	MethodStatusAll           = "StatusAll"
)

// InventoryServiceHandler is the server side of inventory.v1.InventoryService.
// Every method exchanges google.protobuf.Struct messages.
type InventoryServiceHandler interface {
	Decrement(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Increment(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Reserve(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Release(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Commit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Expand(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ValidateForCheckout(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Availability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	StatusAll(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(handler InventoryServiceHandler, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes inventory.v1.InventoryService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodDecrement, InventoryServiceHandler.Decrement),
		unaryMethod(MethodIncrement, InventoryServiceHandler.Increment),
		unaryMethod(MethodReserve, InventoryServiceHandler.Reserve),
		unaryMethod(MethodRelease, InventoryServiceHandler.Release),
		unaryMethod(MethodCommit, InventoryServiceHandler.Commit),
		unaryMethod(MethodExpand, InventoryServiceHandler.Expand),
		unaryMethod(MethodValidateForCheckout, InventoryServiceHandler.ValidateForCheckout),
		unaryMethod(MethodAvailability, InventoryServiceHandler.Availability),
		unaryMethod(MethodStatus, InventoryServiceHandler.Status),
		unaryMethod(MethodStatusAll, InventoryServiceHandler.StatusAll),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.proto",
}

// RegisterInventoryServiceServer registers handler on registrar.
func RegisterInventoryServiceServer(registrar grpc.ServiceRegistrar, handler InventoryServiceHandler) {
	registrar.RegisterService(&ServiceDesc, handler)
}

// FullMethod returns the wire path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			handler := server.(InventoryServiceHandler)
			if interceptor == nil {
				return call(handler, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(method)}
			return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
				return call(handler, ctx, request.(*structpb.Struct))
			})
		},
	}
}

// Client calls inventory.v1.InventoryService over a client connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with request fields and returns the response fields.
func (client *Client) Call(ctx context.Context, method string, request map[string]any) (map[string]any, error) {
	message, err := structpb.NewStruct(request)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, FullMethod(method), message, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}
