// Command train_triplet trains a network described by a JSON definition
// with stochastic gradient descent.
package main

import (
	"flag"
	"log"

	"github.com/flammit/tripletnet"
)

func main() {
	configFile := flag.String("config", "triplet_mnist.json", "JSON network definition")
	iterations := flag.Int("iters", 0, "iterations to run, overrides solver.max_iter")
	flag.Parse()

	config, err := tripletnet.LoadNetConfig(*configFile)
	if err != nil {
		log.Fatalln("failed to load network config:", err)
	}
	layers, err := config.BuildLayers()
	if err != nil {
		log.Fatalln("failed to create layers:", err)
	}
	net, err := tripletnet.NewNetwork(layers)
	if err != nil {
		log.Fatalln("failed to create network:", err)
	}
	defer net.Close()
	log.Printf("Net %s: %d layers, %d param blobs\n", config.Name, len(net.Layers), len(net.Params))

	solver := config.Solver.NewSolver(net)
	maxIter := *iterations
	if maxIter == 0 && config.Solver != nil {
		maxIter = config.Solver.MaxIter
	}
	if maxIter <= 0 {
		log.Fatalln("no iterations to run, set -iters or solver.max_iter")
	}

	loss := solver.Solve(maxIter)
	for _, layer := range net.Layers {
		if dataLayer, ok := layer.(*tripletnet.BoltDbDataLayer); ok && dataLayer.Err() != nil {
			log.Fatalln("data layer failed:", dataLayer.Err())
		}
	}
	log.Printf("Optimization done after %d iterations, loss = %f\n", solver.Iterations(), loss)
}
