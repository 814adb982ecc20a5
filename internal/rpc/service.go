package rpc

// Handler is everything a peer can ask this node to do. internal/node's
// Node implements it; Service adapts it to net/rpc's
// func(*Args, *Reply) error method shape so node itself never imports
// net/rpc.
type Handler interface {
	HandlePrepare(PrepareArgs) (PrepareReply, error)
	HandleAccept(AcceptArgs) (AcceptReply, error)
	HandleLearn(LearnArgs) (LearnReply, error)
	HandleDescribeState(DescribeStateArgs) (DescribeStateReply, error)
	HandleFetchSnapshot(FetchSnapshotArgs) (FetchSnapshotReply, error)
	HandleFetchLogRange(FetchLogRangeArgs) (FetchLogRangeReply, error)
	HandleForwardWrite(ForwardWriteArgs) (ForwardWriteReply, error)
}

// Service is the net/rpc-registrable wrapper around a Handler. Every
// exported method matches net/rpc's required signature so
// rpc.Register(NewService(h)) exposes "Service.Prepare" etc. on the
// wire.
type Service struct {
	h Handler
}

func NewService(h Handler) *Service {
	return &Service{h: h}
}

func (s *Service) Prepare(args *PrepareArgs, reply *PrepareReply) error {
	r, err := s.h.HandlePrepare(*args)
	*reply = r
	return err
}

func (s *Service) Accept(args *AcceptArgs, reply *AcceptReply) error {
	r, err := s.h.HandleAccept(*args)
	*reply = r
	return err
}

func (s *Service) Learn(args *LearnArgs, reply *LearnReply) error {
	r, err := s.h.HandleLearn(*args)
	*reply = r
	return err
}

func (s *Service) DescribeState(args *DescribeStateArgs, reply *DescribeStateReply) error {
	r, err := s.h.HandleDescribeState(*args)
	*reply = r
	return err
}

func (s *Service) FetchSnapshot(args *FetchSnapshotArgs, reply *FetchSnapshotReply) error {
	r, err := s.h.HandleFetchSnapshot(*args)
	*reply = r
	return err
}

func (s *Service) FetchLogRange(args *FetchLogRangeArgs, reply *FetchLogRangeReply) error {
	r, err := s.h.HandleFetchLogRange(*args)
	*reply = r
	return err
}

func (s *Service) ForwardWrite(args *ForwardWriteArgs, reply *ForwardWriteReply) error {
	r, err := s.h.HandleForwardWrite(*args)
	*reply = r
	return err
}
