package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ipld/go-car/v2"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/ipld/go-ipld-prime/traversal/selector"
	"github.com/ipld/go-ipld-prime/traversal/selector/builder"

	// codecs need to be initialized and registered
	_ "github.com/ipld/go-ipld-prime/codec/dagcbor"
	_ "github.com/ipld/go-ipld-prime/codec/raw"
)

// Export writes a CAR containing the chain's full history, blocks and the
// objects they reference, to the given io.Writer.
func (c *Chain) Export(ctx context.Context, out io.Writer) error {
	head, err := c.Head(ctx)
	if err != nil {
		return err
	}
	if !head.Defined() {
		return fmt.Errorf("%w: %s", ErrNotFound, c.name)
	}

	lsys := cidlink.DefaultLinkSystem()
	lsys.StorageReadOpener = func(lc linking.LinkContext, lnk datamodel.Link) (io.Reader, error) {
		id := lnk.(cidlink.Link).Cid
		var data []byte
		var err error
		switch id.Prefix().Codec {
		case 0x71: // dag-cbor blocks
			data, err = c.objects.GetBlock(lc.Ctx, id)
		default:
			data, err = c.objects.Get(lc.Ctx, id)
		}
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}

	ssb := builder.NewSelectorSpecBuilder(basicnode.Prototype.Any)
	sel := ssb.ExploreRecursive(selector.RecursionLimitNone(), ssb.ExploreAll(ssb.ExploreRecursiveEdge()))

	w, err := car.NewSelectiveWriter(ctx, &lsys, head, sel.Node())
	if err != nil {
		return err
	}
	_, err = w.WriteTo(out)
	return err
}
