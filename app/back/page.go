package back

import (
	"context"

	"github.com/vellumwallet/vellum/pkg/types"
)

// handlePage routes dApp-originated traffic. With dApp access disabled
// every page payload, PING included, yields no response at all: origins
// without a grant must not be able to probe for wallet presence.
func (b *Back) handlePage(ctx context.Context, r *types.PageRequest) (types.Response, error) {
	b.lk.Lock()
	doc, err := b.loadDoc(ctx)
	if err != nil {
		b.lk.Unlock()
		return nil, err
	}
	enabled := doc.Settings.DAppsEnabled
	b.lk.Unlock()
	if !enabled {
		return nil, nil
	}

	msg, err := types.DecodePageMessage(r.Payload)
	if err != nil {
		// Unknown and malformed page payloads share the tolerant-drop
		// rule with unknown top-level messages.
		log.Debugw("dropping page payload", "origin", r.Origin, "err", err)
		return nil, nil
	}

	switch m := msg.(type) {
	case *types.Ping:
		return pageReply(&types.Pong{})
	case *types.PageConnect:
		return b.pageConnect(ctx, r.Origin, m)
	case *types.PageSign:
		return b.pageSign(ctx, r.Origin, m)
	case *types.PageOperation:
		return b.pageOperation(ctx, r.Origin, m)
	case *types.PageDisconnect:
		return b.pageDisconnect(ctx, r.Origin)
	default:
		return nil, nil
	}
}

func pageReply(msg types.PageMessage) (types.Response, error) {
	payload, err := types.EncodePageMessage(msg)
	if err != nil {
		return nil, err
	}
	return &types.PageResponse{Payload: payload}, nil
}

// pageConnect runs the permission handshake: a pending approval, then a
// session grant over the default account.
func (b *Back) pageConnect(ctx context.Context, origin string, m *types.PageConnect) (types.Response, error) {
	b.lk.Lock()
	doc, err := b.loadDoc(ctx)
	if err != nil {
		b.lk.Unlock()
		return nil, err
	}
	grant := doc.DefaultAccountID
	b.lk.Unlock()
	if grant == "" {
		return nil, types.ErrNotFound
	}

	p, err := b.addPending(&pendingRequest{
		kind:    pendingConnect,
		origin:  origin,
		appName: m.AppName,
	})
	if err != nil {
		return nil, err
	}
	b.publish()
	if err := b.await(ctx, p); err != nil {
		return nil, err
	}

	b.lk.Lock()
	err = b.sessions.Authorize(ctx, origin, m.AppName, []string{grant})
	b.lk.Unlock()
	if err != nil {
		return nil, err
	}
	b.publish()
	return pageReply(&types.PageConnectResult{AccountIDs: []string{grant}})
}

// pageSign gates on the origin's session grant before surfacing the
// approval; a session never reaches accounts granted to another origin.
func (b *Back) pageSign(ctx context.Context, origin string, m *types.PageSign) (types.Response, error) {
	if err := b.checkSessionGrant(ctx, origin, m.SourceAccountID); err != nil {
		return nil, err
	}
	sig, err := b.approveAndSign(ctx, &pendingRequest{
		id:        m.ID,
		kind:      pendingSign,
		origin:    origin,
		accountID: m.SourceAccountID,
		needsKey:  true,
	}, m.Bytes, m.Watermark)
	if err != nil {
		return nil, err
	}
	return pageReply(&types.PageSignResult{Signature: sig})
}

func (b *Back) pageOperation(ctx context.Context, origin string, m *types.PageOperation) (types.Response, error) {
	if err := b.checkSessionGrant(ctx, origin, m.SourceAccountID); err != nil {
		return nil, err
	}
	opHash, err := b.approveAndSubmit(ctx, &pendingRequest{
		id:        m.ID,
		kind:      pendingOperations,
		origin:    origin,
		accountID: m.SourceAccountID,
		endpoint:  m.NetworkEndpoint,
		opParams:  m.OpParams,
		needsKey:  true,
	})
	if err != nil {
		return nil, err
	}
	return pageReply(&types.PageOperationResult{OpHash: opHash})
}

func (b *Back) pageDisconnect(ctx context.Context, origin string) (types.Response, error) {
	b.lk.Lock()
	_, err := b.sessions.Remove(ctx, origin)
	b.lk.Unlock()
	if err != nil {
		return nil, err
	}
	b.cancelPending(func(p *pendingRequest) bool { return p.origin == origin }, types.ErrUserRejected)
	b.publish()
	return pageReply(&types.PageDisconnectResult{})
}

func (b *Back) checkSessionGrant(ctx context.Context, origin, accountID string) error {
	ok, err := b.sessions.CanSign(ctx, origin, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotFound
	}
	return nil
}
