package repository_test

func (s *RepositorySuite) TestAdmit_FirstDelivery() {
	admission, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().False(admission.Duplicate())
	s.Require().NoError(admission.Commit(s.Ctx))
}

func (s *RepositorySuite) TestAdmit_RedeliveryAfterCommit() {
	admission, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().False(admission.Duplicate())
	s.Require().NoError(admission.Commit(s.Ctx))

	redelivered, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().True(redelivered.Duplicate())
}

func (s *RepositorySuite) TestAdmit_RollbackFreesTheEventID() {
	// A rollback stands in for any failure between admission and the
	// saga step completing; the redelivered copy must get through.
	admission, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().False(admission.Duplicate())

	admission.Rollback(s.Ctx)

	redelivered, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().False(redelivered.Duplicate())
	s.Require().NoError(redelivered.Commit(s.Ctx))
}

func (s *RepositorySuite) TestAdmit_UncommittedRowIsNotVisible() {
	admission, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().False(admission.Duplicate())
	defer admission.Rollback(s.Ctx)

	// Pending admissions stay invisible outside their transaction.
	var count int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = $1`, "evt-1").Scan(&count))
	s.Require().Equal(0, count)
}

func (s *RepositorySuite) TestAdmit_RollbackAfterCommitIsHarmless() {
	admission, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().NoError(admission.Commit(s.Ctx))

	admission.Rollback(s.Ctx)

	redelivered, err := s.Inbox.Admit(s.Ctx, "evt-1")
	s.Require().NoError(err)
	s.Require().True(redelivered.Duplicate())
}
