// Package model defines the U-Net reconstruction network as a gomlx graph
// function. All learnable variables live in the gomlx context passed in; the
// package holds no state of its own.
package model

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

const (
	// DefaultBaseChannels is the channel count of the first encoder level;
	// each level below doubles it.
	DefaultBaseChannels = 32

	// DefaultPoolLayers is the number of down/up sampling levels.
	DefaultPoolLayers = 4

	// LeakySlope is the negative-side slope of the LeakyReLU activations.
	LeakySlope = 0.2
)

// Context params read by Reconstruct. The harness supplies them per run, so
// they are set on the context rather than baked into the graph code.
const (
	ParamDropoutRate  = "unet_dropout_rate"
	ParamBaseChannels = "unet_base_channels"
	ParamPoolLayers   = "unet_pool_layers"
)

// Reconstruct builds the U-Net forward graph. The input holds a batch of
// single-channel image planes shaped [batch, height, width]; the output has
// the same shape. Dropout only fires when the context is marked as training.
func Reconstruct(ctx *context.Context, image *Node) *Node {
	ctx = ctx.In("model")
	g := image.Graph()
	dtype := image.DType()
	dims := image.Shape().Dimensions
	batchSize, height, width := dims[0], dims[1], dims[2]

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.0)
	var dropoutNode *Node
	if dropoutRate > 0 {
		dropoutNode = Scalar(g, dtype, dropoutRate)
	}

	// Burn a scope number even when dropout is off so variable scopes line
	// up across forward passes with different rates.
	drop := func(x *Node) *Node {
		dropCtx := nextCtx("dropout")
		if dropoutNode == nil {
			return x
		}
		return layers.DropoutNormalize(dropCtx, x, dropoutNode, true)
	}

	convBlock := func(x *Node, channels int) *Node {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = layers.LayerNormalization(nextCtx("norm"), x, 1, 2).Done()
		x = activations.LeakyReluWithAlpha(x, LeakySlope)
		x = drop(x)
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = layers.LayerNormalization(nextCtx("norm"), x, 1, 2).Done()
		x = activations.LeakyReluWithAlpha(x, LeakySlope)
		return drop(x)
	}

	baseChannels := context.GetParamOr(ctx, ParamBaseChannels, DefaultBaseChannels)
	poolLayers := context.GetParamOr(ctx, ParamPoolLayers, DefaultPoolLayers)

	// [batch, h, w] -> [batch, h, w, 1], channels-last.
	x := InsertAxes(image, -1)

	skips := make([]*Node, 0, poolLayers)
	channels := baseChannels
	for level := 0; level < poolLayers; level++ {
		x = convBlock(x, channels)
		skips = append(skips, x)
		x = MaxPool(x).Window(2).Done()
		channels *= 2
	}

	x = convBlock(x, channels)

	for level := poolLayers - 1; level >= 0; level-- {
		channels /= 2
		skip := skips[level]
		skipDims := skip.Shape().Dimensions
		x = Interpolate(x, skipDims[0], skipDims[1], skipDims[2], x.Shape().Dimensions[3]).Nearest().Done()
		x = Concatenate([]*Node{x, skip}, -1)
		x = convBlock(x, channels)
	}

	x = layers.Convolution(nextCtx("conv"), x).Channels(1).KernelSize(1).PadSame().Done()
	return Reshape(x, batchSize, height, width)
}
