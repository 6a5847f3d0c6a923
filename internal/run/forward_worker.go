package run

import "context"

func (s *Server) forwardWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.forwardCh:
			if err := s.forward.Run(ctx, job); err != nil {
				s.metrics.incForwardFailed()
				s.logger.Errorf("forward: %v", err)
				continue
			}
			s.metrics.incSent()
		}
	}
}
